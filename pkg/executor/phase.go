package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stagegate/stagegate/pkg/governance"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/otelhelper"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/worker"
)

// ExecutePhase runs a single phase of the definition, including its quality
// gate and the contract gate to the following phase. Split-mode entry point;
// Execute uses the same path for every phase in order.
func (e *Executor) ExecutePhase(ctx context.Context, phase string, wctx *models.WorkflowContext) (*models.PhaseResult, error) {
	next := ""
	found := false

	for i, p := range e.definition.Phases {
		if p == phase {
			found = true
			if i+1 < len(e.definition.Phases) {
				next = e.definition.Phases[i+1]
			}

			break
		}
	}

	if !found {
		return nil, fmt.Errorf("phase %q is not declared by workflow %s", phase, e.definition.ID)
	}

	return e.runPhase(ctx, phase, next, wctx)
}

// runPhase executes the phase's nodes and then its gates. A quality score
// below the current iteration's threshold re-runs the phase at the next
// iteration; a contract violation is surfaced immediately and never retried.
func (e *Executor) runPhase(ctx context.Context, phase, next string, wctx *models.WorkflowContext) (*models.PhaseResult, error) {
	for iteration := 1; ; iteration++ {
		wctx.CurrentPhase = phase
		e.state.Set(state.NamespaceWorkflow, "current_phase", phase)

		base := events.NewBaseEvent(events.PhaseStartedEvent, wctx.WorkflowID)
		base.ExecutionID = wctx.ExecutionID
		e.publish(ctx, events.PhaseStarted{BaseEvent: base, Phase: phase, Iteration: iteration})

		result, err := e.executePhase(ctx, phase, iteration, wctx)
		if err != nil {
			return nil, err
		}

		if result.Status != models.NodeStatusSucceeded {
			wctx.PhaseResults[phase] = result
			e.publishPhaseCompleted(ctx, wctx, result)

			return result, fmt.Errorf("phase %q failed: %d node(s) did not succeed", phase, e.failedNodeCount(phase))
		}

		passed, threshold := contract.EvaluateQuality(e.definition.Thresholds, iteration, result.QualityScore)
		if !passed {
			blocked := events.NewBaseEvent(events.PhaseGateBlockedEvent, wctx.WorkflowID)
			blocked.ExecutionID = wctx.ExecutionID
			e.publish(ctx, events.PhaseGateBlocked{
				BaseEvent: blocked,
				FromPhase: phase,
				ToPhase:   next,
				Violations: []models.Violation{{
					Code:    "quality_below_threshold",
					Message: fmt.Sprintf("Quality score %.2f below threshold %.2f at iteration %d", result.QualityScore, threshold, iteration),
				}},
			})

			if iteration >= e.config.MaxPhaseIterations {
				wctx.PhaseResults[phase] = result

				return result, fmt.Errorf("phase %q quality score %.2f below threshold %.2f after %d iteration(s)",
					phase, result.QualityScore, threshold, iteration)
			}

			e.logger.Warn("quality gate failed, reworking phase",
				"phase", phase, "iteration", iteration, "score", result.QualityScore, "threshold", threshold)
			e.resetPhase(phase)

			continue
		}

		wctx.PhaseResults[phase] = result

		if next != "" && e.contracts != nil {
			validation, err := e.contracts.ValidatePhaseBoundary(ctx, phase, next, wctx)
			if err != nil {
				return nil, err
			}

			if validation.ContractID != "" {
				result.ContractsValidated = append(result.ContractsValidated, validation.ContractID)
			}

			if !validation.Passed {
				blocked := events.NewBaseEvent(events.PhaseGateBlockedEvent, wctx.WorkflowID)
				blocked.ExecutionID = wctx.ExecutionID
				e.publish(ctx, events.PhaseGateBlocked{
					BaseEvent:  blocked,
					FromPhase:  phase,
					ToPhase:    next,
					ContractID: validation.ContractID,
					Violations: validation.Blocking,
				})

				return result, contract.GateError(phase, next, validation)
			}
		}

		e.publishPhaseCompleted(ctx, wctx, result)

		if _, err := e.checkpoint(ctx, wctx, "phase-"+phase, models.CheckpointTypeAuto); err != nil {
			e.logger.Error("phase boundary checkpoint failed", "phase", phase, "error", err)
		}

		return result, nil
	}
}

func (e *Executor) publishPhaseCompleted(ctx context.Context, wctx *models.WorkflowContext, result *models.PhaseResult) {
	base := events.NewBaseEvent(events.PhaseCompletedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.PhaseCompleted{
		BaseEvent:    base,
		Phase:        result.PhaseName,
		Iteration:    result.Iteration,
		Status:       string(result.Status),
		QualityScore: result.QualityScore,
		Duration:     result.Duration,
	})
}

// nodeOutcome is what the worker pool reports back per dispatched node.
type nodeOutcome struct {
	node   *models.Node
	result *models.NodeResult
	denied *governance.DeniedError
	err    error
}

// executePhase dispatches the phase's ready nodes to a fixed worker pool and
// folds their outcomes into a PhaseResult.
func (e *Executor) executePhase(ctx context.Context, phase string, iteration int, wctx *models.WorkflowContext) (*models.PhaseResult, error) {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.tracer != nil {
		var span trace.Span

		phaseCtx, span = otelhelper.StartSpan(phaseCtx, e.tracer, "workflow.phase",
			attribute.String(otelhelper.WorkflowIDKey, wctx.WorkflowID),
			attribute.String(otelhelper.PhaseKey, phase),
			attribute.Int(otelhelper.IterationKey, iteration))
		defer span.End()
	}

	phaseSize := len(e.graph.PhaseNodes(phase))

	tasks := make(chan *models.Node, phaseSize)
	results := make(chan nodeOutcome, phaseSize)

	var wg sync.WaitGroup

	for range e.poolSize() {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for node := range tasks {
				results <- e.runNode(phaseCtx, node, wctx)
			}
		}()
	}

	started := time.Now().UTC()

	strategy := e.failureStrategy()
	outputs := make(map[string]any)

	var (
		artifactNames []string
		scores        []float64
		inFlight      int
		completions   int
		aborted       bool
		failed        bool
	)

	// On resume, nodes completed before the checkpoint are not re-run;
	// fold their recorded results back into the phase aggregate.
	for _, node := range e.graph.PhaseNodes(phase) {
		if _, done := e.completed[node.ID]; !done || node.Status != models.NodeStatusSucceeded {
			continue
		}

		var prior models.NodeResult
		if err := e.state.GetInto(state.NamespaceNode, "result:"+node.ID, &prior); err != nil {
			continue
		}

		for k, v := range prior.Output {
			outputs[k] = v
		}

		if prior.Score > 0 {
			scores = append(scores, prior.Score)
		}

		for name := range prior.Artifacts {
			artifactNames = append(artifactNames, name)
		}
	}

	levels := e.nodeLevels()

	dispatch := func() {
		if aborted {
			return
		}

		frontier := e.levelFrontier(phase, levels)

		for _, node := range e.graph.ReadyNodes(e.completed) {
			if node.Phase != phase {
				continue
			}

			// Mixed mode runs level by level: a ready node past the
			// frontier waits until every earlier level is terminal.
			if levels != nil && levels[node.ID] > frontier {
				continue
			}

			e.setNodeStatus(node.ID, models.NodeStatusReady)
			e.setNodeStatus(node.ID, models.NodeStatusRunning)

			inFlight++
			tasks <- node
		}
	}

	dispatch()

	for {
		if inFlight == 0 {
			pending := e.nonTerminalPhaseNodes(phase)
			if len(pending) == 0 {
				break
			}

			// Nothing runs and nothing can be dispatched: leftovers were
			// either cut off by fail-fast or stranded by blocked deps.
			for _, node := range pending {
				if aborted {
					e.setNodeStatus(node.ID, models.NodeStatusSkipped)
				} else {
					e.blockNode(phaseCtx, wctx, node, "upstream dependency did not succeed")
				}
			}

			break
		}

		out := <-results
		inFlight--

		switch {
		case out.result != nil:
			e.executed++
			completions++
			e.setNodeStatus(out.node.ID, models.NodeStatusSucceeded)
			e.completed[out.node.ID] = struct{}{}
			e.recordNodeResult(out.node.ID, out.result)

			for k, v := range out.result.Output {
				outputs[k] = v
			}

			if out.result.Score > 0 {
				scores = append(scores, out.result.Score)
			}

			names, err := e.persistArtifacts(phaseCtx, phase, out.result)
			if err != nil {
				return nil, err
			}

			artifactNames = append(artifactNames, names...)

			base := events.NewBaseEvent(events.NodeCompletedEvent, wctx.WorkflowID)
			base.ExecutionID = wctx.ExecutionID
			e.publish(phaseCtx, events.NodeCompleted{
				BaseEvent: base,
				NodeID:    out.node.ID,
				Phase:     phase,
				Output:    out.result.Output,
				Score:     out.result.Score,
				Duration:  out.result.Duration,
			})

			if completions%e.config.CheckpointEvery == 0 {
				if _, err := e.checkpoint(phaseCtx, wctx, "cadence", models.CheckpointTypeAuto); err != nil {
					e.logger.Error("cadence checkpoint failed", "error", err)
				}
			}

			dispatch()

		case out.denied != nil:
			e.blockNode(phaseCtx, wctx, out.node, out.denied.Reason)

			failed = true
			if strategy == models.FailureStrategyFailFast {
				aborted = true

				cancel()
			} else {
				dispatch()
			}

		default:
			e.executed++
			e.setNodeStatus(out.node.ID, models.NodeStatusFailed)

			var execErr *NodeExecutionError

			attempts := 1
			if errors.As(out.err, &execErr) {
				attempts = execErr.Attempts
			}

			base := events.NewBaseEvent(events.NodeFailedEvent, wctx.WorkflowID)
			base.ExecutionID = wctx.ExecutionID
			e.publish(phaseCtx, events.NodeFailed{
				BaseEvent: base,
				NodeID:    out.node.ID,
				Phase:     phase,
				Error:     out.err.Error(),
				Attempts:  attempts,
			})

			if out.node.BestEffort {
				// Best-effort failures do not block dependents or fail the
				// phase.
				e.completed[out.node.ID] = struct{}{}
				e.logger.Warn("best-effort node failed, continuing",
					"node_id", out.node.ID, "error", out.err)
				dispatch()

				break
			}

			e.blockDependents(phaseCtx, wctx, out.node.ID)

			failed = true
			if strategy == models.FailureStrategyFailFast {
				aborted = true

				cancel()
			} else {
				dispatch()
			}
		}
	}

	close(tasks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completedAt := time.Now().UTC()

	status := models.NodeStatusSucceeded
	if failed {
		status = models.NodeStatusFailed
	}

	result := &models.PhaseResult{
		PhaseName:        phase,
		Status:           status,
		Iteration:        iteration,
		Outputs:          outputs,
		ArtifactsCreated: artifactNames,
		QualityScore:     phaseScore(scores),
		Duration:         completedAt.Sub(started),
		StartedAt:        started,
		CompletedAt:      completedAt,
	}

	e.state.Set(state.NamespacePhase, phase, result)

	return result, nil
}

// runNode executes one node through governance, worker creation, and the
// retry loop. Timeouts count as failures for retry purposes.
func (e *Executor) runNode(ctx context.Context, node *models.Node, wctx *models.WorkflowContext) nodeOutcome {
	spec := node.Spec()

	if err := e.policies.Allow(spec, wctx); err != nil {
		var denied *governance.DeniedError
		if errors.As(err, &denied) {
			return nodeOutcome{node: node, denied: denied}
		}

		return nodeOutcome{node: node, err: err}
	}

	// The slot granted by Allow is held for the whole retry loop.
	defer e.policies.Release(spec)

	w, err := e.registry.CreateWorker(spec)
	if err != nil {
		return nodeOutcome{node: node, err: err}
	}

	attempts := node.Retry.MaxRetries + 1

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		base := events.NewBaseEvent(events.NodeStartedEvent, wctx.WorkflowID)
		base.ExecutionID = wctx.ExecutionID
		e.publish(ctx, events.NodeStarted{
			BaseEvent: base,
			NodeID:    node.ID,
			Phase:     node.Phase,
			Attempt:   attempt,
		})

		result, execErr := e.runAttempt(ctx, w, spec, wctx)
		if execErr == nil {
			return nodeOutcome{node: node, result: result}
		}

		lastErr = execErr

		if ctx.Err() != nil {
			break
		}

		if attempt < attempts {
			e.logger.Warn("node attempt failed, retrying",
				"node_id", node.ID, "attempt", attempt, "error", execErr)

			select {
			case <-time.After(node.Retry.Delay(attempt)):
			case <-ctx.Done():
				return nodeOutcome{node: node, err: &NodeExecutionError{NodeID: node.ID, Attempts: attempt, Err: lastErr}}
			}
		}
	}

	return nodeOutcome{node: node, err: &NodeExecutionError{NodeID: node.ID, Attempts: attempts, Err: lastErr}}
}

func (e *Executor) runAttempt(ctx context.Context, w worker.Worker, spec models.NodeSpec, wctx *models.WorkflowContext) (*models.NodeResult, error) {
	attemptCtx := ctx

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if e.tracer != nil {
		var span trace.Span

		attemptCtx, span = otelhelper.StartSpan(attemptCtx, e.tracer, "workflow.node",
			attribute.String(otelhelper.NodeIDKey, spec.ID),
			attribute.String(otelhelper.WorkerTypeKey, spec.WorkerType),
			attribute.String(otelhelper.PhaseKey, spec.Phase))
		defer span.End()

		result, err := w.Execute(attemptCtx, spec, wctx)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return checkResult(result, err)
	}

	return checkResult(w.Execute(attemptCtx, spec, wctx))
}

// checkResult normalizes worker returns: a nil result or a failed status
// without an error still counts as a failed attempt.
func checkResult(result *models.NodeResult, err error) (*models.NodeResult, error) {
	if err != nil {
		return nil, err
	}

	if result == nil {
		return nil, errors.New("worker returned no result")
	}

	if result.Status == models.NodeStatusFailed {
		if result.Error != "" {
			return nil, errors.New(result.Error)
		}

		return nil, errors.New("worker reported failure")
	}

	if result.Status == "" {
		result.Status = models.NodeStatusSucceeded
	}

	return result, nil
}

func (e *Executor) persistArtifacts(ctx context.Context, phase string, result *models.NodeResult) ([]string, error) {
	if len(result.Artifacts) == 0 || e.artifacts == nil {
		return nil, nil
	}

	names := make([]string, 0, len(result.Artifacts))

	for name, data := range result.Artifacts {
		if err := e.artifacts.Persist(ctx, phase, name, data); err != nil {
			return nil, fmt.Errorf("persisting artifact %q: %w", name, err)
		}

		names = append(names, name)
	}

	return names, nil
}

// blockDependents marks every transitive dependent of a failed node BLOCKED.
func (e *Executor) blockDependents(ctx context.Context, wctx *models.WorkflowContext, nodeID string) {
	for _, depID := range e.graph.Dependents(nodeID) {
		dep, ok := e.graph.Node(depID)
		if !ok || dep.Status.Terminal() {
			continue
		}

		e.blockNode(ctx, wctx, dep, fmt.Sprintf("dependency %s failed", nodeID))
	}
}

func (e *Executor) blockNode(ctx context.Context, wctx *models.WorkflowContext, node *models.Node, reason string) {
	e.setNodeStatus(node.ID, models.NodeStatusBlocked)

	base := events.NewBaseEvent(events.NodeBlockedEvent, wctx.WorkflowID)
	base.ExecutionID = wctx.ExecutionID
	e.publish(ctx, events.NodeBlocked{
		BaseEvent: base,
		NodeID:    node.ID,
		Phase:     node.Phase,
		Reason:    reason,
	})

	e.blockDependents(ctx, wctx, node.ID)
}

func (e *Executor) setNodeStatus(nodeID string, status models.NodeStatus) {
	e.graph.SetStatus(nodeID, status)
	e.state.Set(state.NamespaceNode, nodeID, status)
}

// recordNodeResult keeps the node's outputs and artifact names in state for
// resume. Artifact payloads live in the artifact store, not the checkpoint.
func (e *Executor) recordNodeResult(nodeID string, result *models.NodeResult) {
	stored := *result

	if len(stored.Artifacts) > 0 {
		names := make(map[string][]byte, len(stored.Artifacts))
		for name := range stored.Artifacts {
			names[name] = nil
		}

		stored.Artifacts = names
	}

	e.state.Set(state.NamespaceNode, "result:"+nodeID, &stored)
}

func (e *Executor) nonTerminalPhaseNodes(phase string) []*models.Node {
	var out []*models.Node

	for _, node := range e.graph.PhaseNodes(phase) {
		if !node.Status.Terminal() && node.Status != models.NodeStatusRunning {
			out = append(out, node)
		}
	}

	return out
}

func (e *Executor) failedNodeCount(phase string) int {
	count := 0

	for _, node := range e.graph.PhaseNodes(phase) {
		if node.Status == models.NodeStatusFailed || node.Status == models.NodeStatusBlocked {
			count++
		}
	}

	return count
}

// resetPhase returns every node of the phase to PENDING for a rework
// iteration.
func (e *Executor) resetPhase(phase string) {
	for _, node := range e.graph.PhaseNodes(phase) {
		e.setNodeStatus(node.ID, models.NodeStatusPending)
		e.state.Delete(state.NamespaceNode, "result:"+node.ID)
		delete(e.completed, node.ID)
	}
}

// poolSize clamps the worker pool to one goroutine for sequential workflows.
func (e *Executor) poolSize() int {
	if e.definition.ExecutionMode == models.ExecutionModeSequential {
		return 1
	}

	return e.config.MaxParallelTasks
}

// nodeLevels returns each node's depth in the execution order, or nil when
// the workflow's mode does not schedule by levels.
func (e *Executor) nodeLevels() map[string]int {
	if e.definition.ExecutionMode != models.ExecutionModeMixed {
		return nil
	}

	levels := make(map[string]int, e.graph.Len())

	for depth, level := range e.graph.ExecutionOrder() {
		for _, id := range level {
			levels[id] = depth
		}
	}

	return levels
}

// levelFrontier is the lowest level with a non-terminal node in the phase.
func (e *Executor) levelFrontier(phase string, levels map[string]int) int {
	if levels == nil {
		return 0
	}

	frontier := math.MaxInt

	for _, node := range e.graph.PhaseNodes(phase) {
		if node.Status.Terminal() {
			continue
		}

		if l := levels[node.ID]; l < frontier {
			frontier = l
		}
	}

	return frontier
}

func (e *Executor) failureStrategy() models.FailureStrategy {
	if e.config.FailureStrategy != "" {
		return e.config.FailureStrategy
	}

	if e.definition.FailureStrategy != "" {
		return e.definition.FailureStrategy
	}

	return models.FailureStrategyFailFast
}

func phaseScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 1.0
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}

	return total / float64(len(scores))
}
