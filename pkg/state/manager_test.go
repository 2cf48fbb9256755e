package state_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence/file"
	"github.com/stagegate/stagegate/pkg/state"
)

func newTestManager(t *testing.T) (*state.Manager, *file.CheckpointRepository) {
	t.Helper()

	repo := file.NewCheckpointRepository(t.TempDir())

	return state.NewManager("wf-orders", repo, slog.Default()), repo
}

func TestManagerSetGet(t *testing.T) {
	manager, _ := newTestManager(t)

	manager.Set(state.NamespaceWorkflow, "current_phase", "design")

	value, ok := manager.Get(state.NamespaceWorkflow, "current_phase")
	require.True(t, ok)
	assert.Equal(t, "design", value)

	_, ok = manager.Get(state.NamespaceWorkflow, "missing")
	assert.False(t, ok)

	_, ok = manager.Get("no-such-namespace", "current_phase")
	assert.False(t, ok)
}

func TestManagerGetIntoTypedRead(t *testing.T) {
	manager, _ := newTestManager(t)

	manager.Set(state.NamespacePhase, "design", &models.PhaseResult{
		PhaseName: "design",
		Iteration: 2,
	})

	var result models.PhaseResult
	require.NoError(t, manager.GetInto(state.NamespacePhase, "design", &result))
	assert.Equal(t, "design", result.PhaseName)
	assert.Equal(t, 2, result.Iteration)

	err := manager.GetInto(state.NamespacePhase, "missing", &result)
	assert.Error(t, err)
}

func TestManagerSubscribeReceivesChangesInOrder(t *testing.T) {
	manager, _ := newTestManager(t)

	var changes []models.StateChange
	manager.Subscribe(func(change models.StateChange) {
		changes = append(changes, change)
	})

	manager.Set(state.NamespaceNode, "build", "running")
	manager.Set(state.NamespaceNode, "build", "succeeded")
	manager.Delete(state.NamespaceNode, "build")
	manager.Delete(state.NamespaceNode, "build") // absent, no event

	require.Len(t, changes, 3)

	assert.Equal(t, models.StateChangeSet, changes[0].ChangeType)
	assert.Nil(t, changes[0].OldValue)
	assert.Equal(t, "running", changes[0].NewValue)

	assert.Equal(t, models.StateChangeSet, changes[1].ChangeType)
	assert.Equal(t, "running", changes[1].OldValue)
	assert.Equal(t, "succeeded", changes[1].NewValue)

	assert.Equal(t, models.StateChangeDelete, changes[2].ChangeType)
	assert.Equal(t, "succeeded", changes[2].OldValue)
	assert.Nil(t, changes[2].NewValue)
}

func TestManagerCheckpointRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	require.NoError(t, manager.Transition(models.RunStatusRunning))
	manager.Set(state.NamespaceWorkflow, "current_phase", "design")
	manager.Set(state.NamespaceNode, "build", "succeeded")

	meta, err := manager.Checkpoint(ctx, "before-rework", models.CheckpointTypeManual)
	require.NoError(t, err)
	assert.Equal(t, "wf-orders", meta.WorkflowID)
	assert.Equal(t, models.CheckpointTypeManual, meta.Type)

	// Diverge, then restore.
	manager.Set(state.NamespaceWorkflow, "current_phase", "implementation")
	manager.Delete(state.NamespaceNode, "build")
	require.NoError(t, manager.Transition(models.RunStatusFailed))

	require.NoError(t, manager.Restore(ctx, meta.CheckpointID))

	value, ok := manager.Get(state.NamespaceWorkflow, "current_phase")
	require.True(t, ok)
	assert.Equal(t, "design", value)

	value, ok = manager.Get(state.NamespaceNode, "build")
	require.True(t, ok)
	assert.Equal(t, "succeeded", value)

	assert.Equal(t, models.RunStatusRunning, manager.Status())

	// Restoring the same checkpoint again is idempotent.
	require.NoError(t, manager.Restore(ctx, meta.CheckpointID))
	value, _ = manager.Get(state.NamespaceWorkflow, "current_phase")
	assert.Equal(t, "design", value)
}

func TestManagerRestoreRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	manager, repo := newTestManager(t)

	manager.Set(state.NamespaceWorkflow, "current_phase", "design")

	require.NoError(t, repo.WriteBlob(ctx, "ckpt-garbage", []byte("not json")))

	err := manager.Restore(ctx, "ckpt-garbage")

	var corruption *state.CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, "ckpt-garbage", corruption.CheckpointID)

	// Current state untouched after the failed restore.
	value, ok := manager.Get(state.NamespaceWorkflow, "current_phase")
	require.True(t, ok)
	assert.Equal(t, "design", value)
}

func TestManagerRestoreRejectsFutureSchemaVersion(t *testing.T) {
	ctx := context.Background()
	manager, repo := newTestManager(t)

	blob, err := json.Marshal(map[string]any{
		"schema_version": 99,
		"workflow_id":    "wf-orders",
		"status":         "running",
		"created_at":     time.Now().UTC(),
		"namespaces":     map[string]any{},
	})
	require.NoError(t, err)
	require.NoError(t, repo.WriteBlob(ctx, "ckpt-future", blob))

	var corruption *state.CorruptionError
	require.ErrorAs(t, manager.Restore(ctx, "ckpt-future"), &corruption)
}

func TestManagerRestoreMigratesV1Snapshot(t *testing.T) {
	ctx := context.Background()
	manager, repo := newTestManager(t)

	blob, err := json.Marshal(map[string]any{
		"schema_version": 1,
		"workflow_id":    "wf-orders",
		"status":         "paused",
		"created_at":     time.Now().UTC(),
		"state":          map[string]any{"current_phase": "review"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.WriteBlob(ctx, "ckpt-v1", blob))

	require.NoError(t, manager.Restore(ctx, "ckpt-v1"))

	value, ok := manager.Get(state.NamespaceWorkflow, "current_phase")
	require.True(t, ok)
	assert.Equal(t, "review", value)
	assert.Equal(t, models.RunStatusPaused, manager.Status())
}

func TestManagerRestoreRejectsForeignWorkflow(t *testing.T) {
	ctx := context.Background()
	manager, repo := newTestManager(t)

	other := state.NewManager("wf-other", repo, slog.Default())
	meta, err := other.Checkpoint(ctx, "", models.CheckpointTypeAuto)
	require.NoError(t, err)

	var corruption *state.CorruptionError
	require.ErrorAs(t, manager.Restore(ctx, meta.CheckpointID), &corruption)
}

func TestManagerTransitions(t *testing.T) {
	manager, _ := newTestManager(t)

	require.NoError(t, manager.Transition(models.RunStatusRunning))
	require.NoError(t, manager.Transition(models.RunStatusPaused))
	require.NoError(t, manager.Transition(models.RunStatusRunning))
	require.NoError(t, manager.Transition(models.RunStatusCompleted))

	err := manager.Transition(models.RunStatusRunning)

	var transition *state.TransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, models.RunStatusCompleted, transition.From)
	assert.Equal(t, models.RunStatusRunning, transition.To)
}

func TestManagerCreatedCannotComplete(t *testing.T) {
	manager, _ := newTestManager(t)

	var transition *state.TransitionError
	require.ErrorAs(t, manager.Transition(models.RunStatusCompleted), &transition)
}
