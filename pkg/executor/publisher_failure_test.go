package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/executor"
	"github.com/stagegate/stagegate/pkg/mocks"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence/file"
	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/workflow"
)

// A broken event bus must never fail a run: events are observability, not
// control flow.
func TestRunSurvivesPublisherFailure(t *testing.T) {
	t.Parallel()

	def := definition("wf-pub", []string{"build"},
		nodeDef("only", "build", "ok"),
	)

	graph, err := dag.FromDefinition(def)
	require.NoError(t, err)

	reg := registry.NewRegistry(slog.Default())
	reg.Register(&funcFactory{typeName: "ok", fn: succeed(1.0, nil, nil)})

	bus := new(mocks.MockEventBus)
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unreachable"))

	store := file.NewPersistence(t.TempDir())

	exec, err := executor.NewExecutor(executor.Config{}, def, graph, executor.Deps{
		Registry:  reg,
		State:     state.NewManager(def.ID, store.Checkpoints(), slog.Default()),
		Artifacts: store.Artifacts(),
		Publisher: bus,
		Workflows: workflow.NewRegistry(),
		Logger:    slog.Default(),
	})
	require.NoError(t, err)

	wctx, err := exec.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, wctx.Status)

	bus.AssertCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
