package registry_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/registry"
	logworker "github.com/stagegate/stagegate/pkg/workers/log"
)

func taskNode(id, workerType string) *models.Node {
	return &models.Node{
		ID:         id,
		Name:       id,
		Type:       models.NodeTypeTask,
		Phase:      "build",
		WorkerType: workerType,
	}
}

func TestRegistryValidateGraph(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())
	reg.Register(logworker.NewFactory())

	graph := dag.New("wf-1", "test", models.ExecutionModeParallel)
	require.NoError(t, graph.AddNode(taskNode("a", "log")))
	require.NoError(t, graph.AddNode(taskNode("b", "shell")))
	require.NoError(t, graph.AddNode(taskNode("c", "shell")))
	require.NoError(t, graph.Validate())

	err := reg.ValidateGraph(graph)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shell")

	gate := &models.Node{ID: "g", Name: "g", Type: models.NodeTypeGate, Phase: "build", WorkerType: "none"}
	clean := dag.New("wf-2", "test", models.ExecutionModeParallel)
	require.NoError(t, clean.AddNode(taskNode("a", "log")))
	require.NoError(t, clean.AddNode(gate))
	require.NoError(t, clean.Validate())

	assert.NoError(t, reg.ValidateGraph(clean))
}

func TestRegistryCreateWorker(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())
	reg.Register(logworker.NewFactory())

	w, err := reg.CreateWorker(models.NodeSpec{ID: "a", WorkerType: "log"})
	require.NoError(t, err)
	assert.NotNil(t, w)

	_, err = reg.CreateWorker(models.NodeSpec{ID: "a", WorkerType: "shell"})
	assert.Error(t, err)

	assert.Equal(t, []string{"log"}, reg.Types())
}
