package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/models"
	logworker "github.com/stagegate/stagegate/pkg/workers/log"
)

func TestLogWorkerExecute(t *testing.T) {
	factory := logworker.NewFactory()
	assert.Equal(t, "log", factory.Type())

	w, err := factory.Create(map[string]any{"message": "design ready", "level": "warn"}, slog.Default())
	require.NoError(t, err)

	result, err := w.Execute(context.Background(),
		models.NodeSpec{ID: "announce", Phase: "design"},
		&models.WorkflowContext{WorkflowID: "wf-orders"})
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusSucceeded, result.Status)
	assert.Equal(t, "design ready", result.Output["message"])
	assert.Equal(t, "announce", result.NodeID)
}

func TestLogWorkerDefaults(t *testing.T) {
	w, err := logworker.NewFactory().Create(nil, slog.Default())
	require.NoError(t, err)

	result, err := w.Execute(context.Background(),
		models.NodeSpec{ID: "n"},
		&models.WorkflowContext{})
	require.NoError(t, err)
	assert.Equal(t, "node executed", result.Output["message"])
}
