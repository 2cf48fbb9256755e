// Package executor drives a validated workflow graph through its phases:
// dispatching nodes to a worker pool, enforcing phase gates, checkpointing
// state, and emitting execution events.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stagegate/stagegate/pkg/governance"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/otelhelper"
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/workflow"
)

const (
	defaultMaxParallelTasks   = 4
	defaultCheckpointEvery    = 5
	defaultMaxPhaseIterations = 3
)

// Config tunes a single executor instance.
type Config struct {
	// MaxParallelTasks is the worker pool size.
	MaxParallelTasks int
	// CheckpointEvery triggers an automatic checkpoint after every K node
	// completions. Phase boundaries always checkpoint regardless.
	CheckpointEvery int
	// FailureStrategy overrides the definition's strategy when set.
	FailureStrategy models.FailureStrategy
	// MaxPhaseIterations bounds the quality-gate rework loop per phase.
	MaxPhaseIterations int
	// AutoCheckpointSchedule is an optional cron expression for wall-clock
	// checkpoints, independent of the completion cadence.
	AutoCheckpointSchedule string
	// DefaultTimeout applies to nodes that declare none. Zero means no limit.
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = defaultMaxParallelTasks
	}

	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}

	if c.MaxPhaseIterations <= 0 {
		c.MaxPhaseIterations = defaultMaxPhaseIterations
	}

	return c
}

// Executor runs one workflow definition. It is not reusable across runs;
// create a new Executor per execution.
type Executor struct {
	config     Config
	definition *models.WorkflowDefinition
	graph      *dag.Graph

	registry  *registry.Registry
	contracts *contract.Manager
	state     *state.Manager
	artifacts persistence.ArtifactRepository
	policies  *governance.Chain
	publisher eventbus.EventPublisher
	workflows *workflow.Registry
	tracer    trace.Tracer
	logger    *slog.Logger

	// completed is the graph-wide dependency-satisfaction set: succeeded
	// nodes plus best-effort failures and skipped nodes.
	completed map[string]struct{}
	executed  int
	paused    atomic.Bool
}

// Pause requests a graceful stop. The run finishes its current phase, takes
// a manual checkpoint, and returns with status PAUSED; ResumeFromCheckpoint
// picks it up from there.
func (e *Executor) Pause() {
	e.paused.Store(true)
}

type Deps struct {
	Registry  *registry.Registry
	Contracts *contract.Manager
	State     *state.Manager
	Artifacts persistence.ArtifactRepository
	Policies  *governance.Chain
	Publisher eventbus.EventPublisher
	Workflows *workflow.Registry
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// NewExecutor validates the graph against the registered worker types and
// returns an executor ready to run. An unknown worker type fails here, before
// any node is dispatched.
func NewExecutor(config Config, definition *models.WorkflowDefinition, graph *dag.Graph, deps Deps) (*Executor, error) {
	if err := deps.Registry.ValidateGraph(graph); err != nil {
		return nil, err
	}

	policies := deps.Policies
	if policies == nil {
		policies = governance.NewChain()
	}

	return &Executor{
		config:     config.withDefaults(),
		definition: definition,
		graph:      graph,
		registry:   deps.Registry,
		contracts:  deps.Contracts,
		state:      deps.State,
		artifacts:  deps.Artifacts,
		policies:   policies,
		publisher:  deps.Publisher,
		workflows:  deps.Workflows,
		tracer:     deps.Tracer,
		logger:     deps.Logger.With("module", "executor", "workflow_id", definition.ID),
		completed:  make(map[string]struct{}),
	}, nil
}

// Execute runs every phase of the definition in order. The returned context
// reflects the final run state even when the error is non-nil.
func (e *Executor) Execute(ctx context.Context) (*models.WorkflowContext, error) {
	wctx := &models.WorkflowContext{
		WorkflowID:   e.definition.ID,
		ExecutionID:  "exec-" + uuid.New().String()[:8],
		Status:       models.RunStatusRunning,
		PhaseResults: make(map[string]*models.PhaseResult),
		Variables:    e.definition.Variables,
		StartedAt:    time.Now().UTC(),
	}

	if e.workflows != nil {
		if err := e.workflows.Register(wctx); err != nil {
			return nil, err
		}
	}

	if err := e.state.Transition(models.RunStatusRunning); err != nil {
		return nil, err
	}

	base := events.NewBaseEvent(events.RunStartedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.RunStarted{
		BaseEvent:    base,
		WorkflowName: e.definition.Name,
		Variables:    wctx.Variables,
	})

	return e.run(ctx, wctx, 0)
}

// ResumeFromCheckpoint rehydrates run state from a checkpoint and continues
// from the phase that was current when it was taken. Completed nodes are not
// re-executed; in-flight nodes at checkpoint time run again.
func (e *Executor) ResumeFromCheckpoint(ctx context.Context, checkpointID string) (*models.WorkflowContext, error) {
	if err := e.state.Restore(ctx, checkpointID); err != nil {
		return nil, err
	}

	var wctx models.WorkflowContext
	if err := e.state.GetInto(state.NamespaceWorkflow, "context", &wctx); err != nil {
		return nil, &state.CorruptionError{CheckpointID: checkpointID, Reason: "no workflow context in snapshot", Err: err}
	}

	if wctx.PhaseResults == nil {
		wctx.PhaseResults = make(map[string]*models.PhaseResult)
	}

	// Rehydrate node statuses. Anything non-terminal at checkpoint time is
	// re-run from PENDING.
	for _, node := range e.graph.Nodes() {
		var status models.NodeStatus
		if err := e.state.GetInto(state.NamespaceNode, node.ID, &status); err != nil {
			status = models.NodeStatusPending
		}

		if !status.Terminal() {
			status = models.NodeStatusPending
		}

		e.graph.SetStatus(node.ID, status)

		if e.satisfiesDependents(node.ID, status) {
			e.completed[node.ID] = struct{}{}
		}
	}

	if e.state.Status() == models.RunStatusPaused {
		if err := e.state.Transition(models.RunStatusRunning); err != nil {
			return nil, err
		}
	}

	wctx.Status = models.RunStatusRunning

	// The run may already be known, paused or archived, when the same
	// registry watched the original execution.
	if e.workflows != nil {
		e.workflows.Reactivate(&wctx)
	}

	base := events.NewBaseEvent(events.RunResumedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.RunResumed{BaseEvent: base, CheckpointID: checkpointID})

	startPhase := 0

	for i, phase := range e.definition.Phases {
		if phase == wctx.CurrentPhase {
			startPhase = i

			break
		}
	}

	e.logger.Info("resuming from checkpoint",
		"checkpoint_id", checkpointID,
		"phase", wctx.CurrentPhase,
		"completed_nodes", len(e.completed))

	return e.run(ctx, &wctx, startPhase)
}

// run executes phases from startPhase onward and settles the run's terminal
// state.
func (e *Executor) run(ctx context.Context, wctx *models.WorkflowContext, startPhase int) (*models.WorkflowContext, error) {
	started := time.Now().UTC()

	var cronRunner *cron.Cron

	if e.config.AutoCheckpointSchedule != "" {
		cronRunner = cron.New()

		_, err := cronRunner.AddFunc(e.config.AutoCheckpointSchedule, func() {
			if _, err := e.checkpoint(context.Background(), wctx, "scheduled", models.CheckpointTypeAuto); err != nil {
				e.logger.Error("scheduled checkpoint failed", "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid auto checkpoint schedule: %w", err)
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	runCtx := ctx
	if e.tracer != nil {
		var span trace.Span

		runCtx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
			attribute.String(otelhelper.WorkflowIDKey, wctx.WorkflowID),
			attribute.String(otelhelper.ExecutionIDKey, wctx.ExecutionID))
		defer span.End()
	}

	for i := startPhase; i < len(e.definition.Phases); i++ {
		phase := e.definition.Phases[i]

		if e.paused.Load() {
			return e.pauseRun(runCtx, wctx, phase)
		}

		// Phase boundaries checkpoint after their gates pass, so a restored
		// run may point at an already-finished phase.
		if prior, ok := wctx.PhaseResults[phase]; ok &&
			prior.Status == models.NodeStatusSucceeded &&
			len(e.nonTerminalPhaseNodes(phase)) == 0 {
			e.logger.Info("phase already complete, skipping", "phase", phase)

			continue
		}

		next := ""
		if i+1 < len(e.definition.Phases) {
			next = e.definition.Phases[i+1]
		}

		if _, err := e.runPhase(runCtx, phase, next, wctx); err != nil {
			return e.failRun(runCtx, wctx, started, err)
		}
	}

	now := time.Now().UTC()
	wctx.Status = models.RunStatusCompleted
	wctx.CompletedAt = &now

	e.state.Set(state.NamespaceWorkflow, "context", wctx)

	if err := e.state.Transition(models.RunStatusCompleted); err != nil {
		return wctx, err
	}

	if _, err := e.checkpoint(runCtx, wctx, "run-completed", models.CheckpointTypeAuto); err != nil {
		e.logger.Error("final checkpoint failed", "error", err)
	}

	base := events.NewBaseEvent(events.RunCompletedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(runCtx, events.RunCompleted{
		BaseEvent:     base,
		Status:        string(wctx.Status),
		NodesExecuted: e.executed,
		Duration:      now.Sub(started),
	})

	e.archive(wctx)

	e.logger.Info("run completed", "execution_id", wctx.ExecutionID, "nodes_executed", e.executed)

	return wctx, nil
}

// pauseRun settles a graceful stop at a phase boundary. The paused run stays
// live in the registry; wctx.CurrentPhase names the phase the resume starts
// from.
func (e *Executor) pauseRun(ctx context.Context, wctx *models.WorkflowContext, nextPhase string) (*models.WorkflowContext, error) {
	wctx.Status = models.RunStatusPaused
	wctx.CurrentPhase = nextPhase

	e.state.Set(state.NamespaceWorkflow, "context", wctx)

	if err := e.state.Transition(models.RunStatusPaused); err != nil {
		return wctx, err
	}

	meta, err := e.state.Checkpoint(ctx, "paused", models.CheckpointTypeManual)
	if err != nil {
		return wctx, err
	}

	base := events.NewBaseEvent(events.RunPausedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.RunPaused{
		BaseEvent:    base,
		Reason:       "pause requested",
		CheckpointID: meta.CheckpointID,
	})

	e.logger.Info("run paused",
		"execution_id", wctx.ExecutionID,
		"checkpoint_id", meta.CheckpointID,
		"next_phase", nextPhase)

	return wctx, nil
}

func (e *Executor) failRun(ctx context.Context, wctx *models.WorkflowContext, started time.Time, cause error) (*models.WorkflowContext, error) {
	now := time.Now().UTC()
	wctx.Status = models.RunStatusFailed
	wctx.CompletedAt = &now

	e.state.Set(state.NamespaceWorkflow, "context", wctx)

	if err := e.state.Transition(models.RunStatusFailed); err != nil {
		e.logger.Error("failed-state transition rejected", "error", err)
	}

	base := events.NewBaseEvent(events.RunFailedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.RunFailed{
		BaseEvent:     base,
		Error:         cause.Error(),
		NodesExecuted: e.executed,
		Duration:      now.Sub(started),
	})

	e.archive(wctx)

	e.logger.Error("run failed", "execution_id", wctx.ExecutionID, "error", cause)

	return wctx, cause
}

func (e *Executor) archive(wctx *models.WorkflowContext) {
	if e.workflows == nil {
		return
	}

	if err := e.workflows.Archive(wctx.ExecutionID); err != nil {
		e.logger.Warn("archiving run failed", "execution_id", wctx.ExecutionID, "error", err)
	}
}

// checkpoint snapshots the workflow context alongside the state manager's
// namespaces and announces the new checkpoint.
func (e *Executor) checkpoint(ctx context.Context, wctx *models.WorkflowContext, label string, kind models.CheckpointType) (*models.CheckpointMetadata, error) {
	e.state.Set(state.NamespaceWorkflow, "context", wctx)

	meta, err := e.state.Checkpoint(ctx, label, kind)
	if err != nil {
		return nil, err
	}

	base := events.NewBaseEvent(events.CheckpointCreatedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.CheckpointCreated{
		BaseEvent:    base,
		CheckpointID: meta.CheckpointID,
		Kind:         kind,
		Label:        label,
	})

	return meta, nil
}

func (e *Executor) publish(ctx context.Context, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, e.definition.ID, event); err != nil {
		e.logger.Error("publishing event failed", "event_type", event.GetType(), "error", err)
	}
}

// satisfiesDependents reports whether a node in the given terminal status
// unblocks its dependents.
func (e *Executor) satisfiesDependents(nodeID string, status models.NodeStatus) bool {
	switch status {
	case models.NodeStatusSucceeded, models.NodeStatusSkipped:
		return true
	case models.NodeStatusFailed:
		node, ok := e.graph.Node(nodeID)

		return ok && node.BestEffort
	default:
		return false
	}
}
