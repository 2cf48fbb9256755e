package workflow_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/workflow"
)

// stubSubscriber delivers events synchronously so assertions need no polling.
type stubSubscriber struct {
	handlers map[events.EventType]eventbus.EventHandler
}

func newStubSubscriber() *stubSubscriber {
	return &stubSubscriber{handlers: make(map[events.EventType]eventbus.EventHandler)}
}

func (s *stubSubscriber) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	s.handlers[eventType] = handler

	return nil
}

func (s *stubSubscriber) Subscribe(_ context.Context) error { return nil }

func (s *stubSubscriber) deliver(t *testing.T, eventType events.EventType, event any) {
	t.Helper()

	handler, ok := s.handlers[eventType]
	require.True(t, ok, "no handler for %s", eventType)
	require.NoError(t, handler(context.Background(), event))
}

func runEvent(eventType events.EventType, executionID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, "wf-orders")
	base.ExecutionID = executionID

	return base
}

func TestMonitorTracksRunLifecycle(t *testing.T) {
	runs := workflow.NewRegistry()
	monitor := workflow.NewMonitor(runs, slog.Default())

	bus := newStubSubscriber()
	require.NoError(t, monitor.Attach(bus))

	bus.deliver(t, events.RunStartedEvent, &events.RunStarted{
		BaseEvent:    runEvent(events.RunStartedEvent, "exec-1"),
		WorkflowName: "orders workflow",
	})

	wctx, ok := runs.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, models.RunStatusRunning, wctx.Status)
	assert.Equal(t, "wf-orders", wctx.WorkflowID)

	bus.deliver(t, events.PhaseStartedEvent, &events.PhaseStarted{
		BaseEvent: runEvent(events.PhaseStartedEvent, "exec-1"),
		Phase:     "design",
		Iteration: 1,
	})
	assert.Equal(t, "design", wctx.CurrentPhase)

	bus.deliver(t, events.NodeCompletedEvent, &events.NodeCompleted{
		BaseEvent: runEvent(events.NodeCompletedEvent, "exec-1"),
		NodeID:    "draft",
		Phase:     "design",
		Score:     1.0,
	})

	bus.deliver(t, events.RunPausedEvent, &events.RunPaused{
		BaseEvent: runEvent(events.RunPausedEvent, "exec-1"),
		Reason:    "pause requested",
	})
	assert.Equal(t, models.RunStatusPaused, wctx.Status)

	bus.deliver(t, events.RunResumedEvent, &events.RunResumed{
		BaseEvent: runEvent(events.RunResumedEvent, "exec-1"),
	})
	assert.Equal(t, models.RunStatusRunning, wctx.Status)

	bus.deliver(t, events.RunCompletedEvent, &events.RunCompleted{
		BaseEvent: runEvent(events.RunCompletedEvent, "exec-1"),
		Status:    string(models.RunStatusCompleted),
	})
	assert.Equal(t, models.RunStatusCompleted, wctx.Status)
	assert.Empty(t, runs.List(), "finished runs move to the archive")

	log := monitor.Events("exec-1")
	require.Len(t, log, 6)
	assert.Equal(t, events.RunStartedEvent, log[0].GetType())
	assert.Equal(t, events.RunCompletedEvent, log[5].GetType())

	assert.Empty(t, monitor.Events("exec-unknown"))
}

func TestMonitorObservedRunSurvivesUnknownExecution(t *testing.T) {
	runs := workflow.NewRegistry()
	monitor := workflow.NewMonitor(runs, slog.Default())

	bus := newStubSubscriber()
	require.NoError(t, monitor.Attach(bus))

	// Events for runs the registry never saw are recorded but change nothing.
	bus.deliver(t, events.RunPausedEvent, &events.RunPaused{
		BaseEvent: runEvent(events.RunPausedEvent, "exec-ghost"),
	})
	bus.deliver(t, events.RunCompletedEvent, &events.RunCompleted{
		BaseEvent: runEvent(events.RunCompletedEvent, "exec-ghost"),
	})

	_, ok := runs.Get("exec-ghost")
	assert.False(t, ok)
	assert.Len(t, monitor.Events("exec-ghost"), 2)
}
