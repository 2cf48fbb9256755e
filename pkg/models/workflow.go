package models

import "time"

// ExecutionMode controls how nodes within a phase are scheduled.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential" // One node at a time
	ExecutionModeParallel   ExecutionMode = "parallel"   // Full ready-set parallelism
	ExecutionModeMixed      ExecutionMode = "mixed"      // Parallelism bounded by level structure
)

// FailureStrategy decides what happens to remaining ready nodes in the
// current phase when a sibling fails terminally.
type FailureStrategy string

const (
	FailureStrategyFailFast FailureStrategy = "fail_fast"
	FailureStrategyContinue FailureStrategy = "continue"
)

// RunStatus is the coarse run-level lifecycle state.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusAborted:
		return true
	default:
		return false
	}
}

// PhaseResult captures the outcome of one phase execution. It is append-only:
// once a phase completes its result is immutable.
type PhaseResult struct {
	PhaseName          string         `json:"phase_name"`
	Status             NodeStatus     `json:"status"`
	Iteration          int            `json:"iteration"`
	Outputs            map[string]any `json:"outputs,omitempty"`
	ArtifactsCreated   []string       `json:"artifacts_created,omitempty"`
	ContractsValidated []string       `json:"contracts_validated,omitempty"`
	QualityScore       float64        `json:"quality_score"`
	Duration           time.Duration  `json:"duration"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        time.Time      `json:"completed_at"`
}

// WorkflowContext is the per-run state handed phase to phase. It is created
// once per run and mutated only by the executor and the phase-gate validator.
type WorkflowContext struct {
	WorkflowID   string                  `json:"workflow_id"`
	ExecutionID  string                  `json:"execution_id"`
	Status       RunStatus               `json:"status"`
	CurrentPhase string                  `json:"current_phase"`
	PhaseResults map[string]*PhaseResult `json:"phase_results"`
	Variables    map[string]any          `json:"variables,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// Result returns the recorded result for a phase, if any.
func (c *WorkflowContext) Result(phase string) (*PhaseResult, bool) {
	r, ok := c.PhaseResults[phase]

	return r, ok
}
