package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stagegate/stagegate/pkg/models"
)

// Per-run event logs are bounded; once a run exceeds the cap the oldest
// entries are dropped.
const maxEventsPerRun = 512

// Monitor feeds a run Registry from the execution event stream and keeps a
// bounded per-run event log. It lets the API server track runs executed by
// other processes that publish to the same bus.
type Monitor struct {
	runs   *Registry
	logger *slog.Logger

	mu   sync.RWMutex
	logs map[string][]eventbus.Event
}

func NewMonitor(runs *Registry, logger *slog.Logger) *Monitor {
	return &Monitor{
		runs:   runs,
		logger: logger.With("module", "monitor"),
		logs:   make(map[string][]eventbus.Event),
	}
}

// Attach registers the monitor for every execution event type. The caller
// still has to call Subscribe on the bus to start delivery.
func (m *Monitor) Attach(bus eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.NodeStartedEvent,
		events.NodeCompletedEvent,
		events.NodeFailedEvent,
		events.NodeBlockedEvent,
		events.PhaseStartedEvent,
		events.PhaseCompletedEvent,
		events.PhaseGateBlockedEvent,
		events.RunStartedEvent,
		events.RunCompletedEvent,
		events.RunFailedEvent,
		events.RunPausedEvent,
		events.RunResumedEvent,
		events.CheckpointCreatedEvent,
	} {
		if err := bus.Handle(eventType, m.handle); err != nil {
			return err
		}
	}

	return nil
}

// Events returns the recorded event log for one run, oldest first.
func (m *Monitor) Events(executionID string) []eventbus.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[executionID]
	out := make([]eventbus.Event, len(log))
	copy(out, log)

	return out
}

func (m *Monitor) handle(_ context.Context, raw interface{}) error {
	event, ok := raw.(eventbus.Event)
	if !ok {
		return nil
	}

	switch e := raw.(type) {
	case *events.RunStarted:
		m.registerRun(e.WorkflowID, e.ExecutionID, e.Timestamp, e.Variables)
	case *events.RunResumed:
		m.registerRun(e.WorkflowID, e.ExecutionID, e.Timestamp, nil)
		m.setStatus(e.ExecutionID, models.RunStatusRunning)
	case *events.PhaseStarted:
		if wctx, ok := m.runs.Get(e.ExecutionID); ok {
			wctx.CurrentPhase = e.Phase
		}
	case *events.RunPaused:
		m.setStatus(e.ExecutionID, models.RunStatusPaused)
	case *events.RunCompleted:
		m.finishRun(e.ExecutionID, models.RunStatusCompleted)
	case *events.RunFailed:
		m.finishRun(e.ExecutionID, models.RunStatusFailed)
	}

	// Recorded last: readers polling the log see the registry update first.
	m.record(event)

	return nil
}

func (m *Monitor) record(event eventbus.Event) {
	keyed, ok := event.(interface{ GetExecutionID() string })
	if !ok || keyed.GetExecutionID() == "" {
		return
	}

	id := keyed.GetExecutionID()

	m.mu.Lock()
	defer m.mu.Unlock()

	log := append(m.logs[id], event)
	if len(log) > maxEventsPerRun {
		log = log[len(log)-maxEventsPerRun:]
	}

	m.logs[id] = log
}

// registerRun ignores duplicates: when the executor shares a process with
// the monitor the run is already in the registry.
func (m *Monitor) registerRun(workflowID, executionID string, startedAt time.Time, variables map[string]any) {
	if _, ok := m.runs.Get(executionID); ok {
		return
	}

	err := m.runs.Register(&models.WorkflowContext{
		WorkflowID:   workflowID,
		ExecutionID:  executionID,
		Status:       models.RunStatusRunning,
		PhaseResults: make(map[string]*models.PhaseResult),
		Variables:    variables,
		StartedAt:    startedAt,
	})
	if err != nil {
		m.logger.Warn("failed to register observed run",
			"execution_id", executionID, "error", err)
	}
}

func (m *Monitor) setStatus(executionID string, status models.RunStatus) {
	if wctx, ok := m.runs.Get(executionID); ok {
		wctx.Status = status
	}
}

func (m *Monitor) finishRun(executionID string, status models.RunStatus) {
	wctx, ok := m.runs.Get(executionID)
	if !ok {
		return
	}

	wctx.Status = status

	if err := m.runs.Archive(executionID); err != nil {
		m.logger.Debug("run already archived", "execution_id", executionID, "error", err)
	}
}
