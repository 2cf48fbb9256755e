package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/workflow"
)

const validDefinition = `{
	"id": "wf-orders",
	"name": "Order pipeline",
	"phases": ["design", "build"],
	"failure_strategy": "continue",
	"nodes": [
		{"id": "draft", "name": "Draft", "type": "task", "phase": "design", "worker_type": "log"},
		{"id": "compile", "name": "Compile", "type": "task", "phase": "build", "worker_type": "log", "dependencies": ["draft"]}
	],
	"thresholds": {"base": 0.6, "increment": 0.15, "max": 0.95}
}`

func TestParseDefinition(t *testing.T) {
	def, err := workflow.ParseDefinition([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, "wf-orders", def.ID)
	assert.Equal(t, []string{"design", "build"}, def.Phases)
	assert.Equal(t, models.FailureStrategyContinue, def.FailureStrategy)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, []string{"draft"}, def.Nodes[1].Dependencies)
	assert.InDelta(t, 0.6, def.Thresholds.Base, 1e-9)
}

func TestParseDefinitionRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing phases": `{"id": "x", "name": "named", "nodes": [{"id": "a", "name": "a", "type": "task", "phase": "p", "worker_type": "log"}]}`,
		"bad node type":  `{"id": "x", "name": "named", "phases": ["p"], "nodes": [{"id": "a", "name": "a", "type": "loop", "phase": "p", "worker_type": "log"}]}`,
		"no nodes":       `{"id": "x", "name": "named", "phases": ["p"], "nodes": []}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := workflow.ParseDefinition([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o600))

	def, err := workflow.LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-orders", def.ID)

	_, err = workflow.LoadDefinition(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
