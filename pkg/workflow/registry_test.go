package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/workflow"
)

func TestRegistryLifecycle(t *testing.T) {
	registry := workflow.NewRegistry()

	wctx := &models.WorkflowContext{
		WorkflowID:  "wf-orders",
		ExecutionID: "exec-1",
		Status:      models.RunStatusRunning,
	}

	require.NoError(t, registry.Register(wctx))
	assert.Error(t, registry.Register(wctx))

	got, ok := registry.Get("exec-1")
	require.True(t, ok)
	assert.Same(t, wctx, got)

	assert.Len(t, registry.List(), 1)

	// Running runs cannot be archived.
	require.Error(t, registry.Archive("exec-1"))

	wctx.Status = models.RunStatusCompleted
	require.NoError(t, registry.Archive("exec-1"))

	assert.Empty(t, registry.List())

	// Archived runs remain fetchable.
	got, ok = registry.Get("exec-1")
	require.True(t, ok)
	assert.Same(t, wctx, got)

	require.Error(t, registry.Archive("exec-1"))
	require.Error(t, registry.Register(wctx))
}

func TestRegistryReactivate(t *testing.T) {
	registry := workflow.NewRegistry()

	wctx := &models.WorkflowContext{
		WorkflowID:  "wf-orders",
		ExecutionID: "exec-1",
		Status:      models.RunStatusCompleted,
	}

	require.NoError(t, registry.Register(wctx))
	require.NoError(t, registry.Archive("exec-1"))

	// A resumed run replaces its archived record and goes live again.
	resumed := &models.WorkflowContext{
		WorkflowID:  "wf-orders",
		ExecutionID: "exec-1",
		Status:      models.RunStatusRunning,
	}
	registry.Reactivate(resumed)

	got, ok := registry.Get("exec-1")
	require.True(t, ok)
	assert.Same(t, resumed, got)
	assert.Len(t, registry.List(), 1)

	resumed.Status = models.RunStatusCompleted
	require.NoError(t, registry.Archive("exec-1"))
}

func TestRegistryListSorted(t *testing.T) {
	registry := workflow.NewRegistry()

	for _, id := range []string{"exec-c", "exec-a", "exec-b"} {
		require.NoError(t, registry.Register(&models.WorkflowContext{ExecutionID: id}))
	}

	list := registry.List()
	require.Len(t, list, 3)
	assert.Equal(t, "exec-a", list[0].ExecutionID)
	assert.Equal(t, "exec-c", list[2].ExecutionID)
}

func TestRegistryGetMissing(t *testing.T) {
	registry := workflow.NewRegistry()

	_, ok := registry.Get("exec-missing")
	assert.False(t, ok)
}
