package models

import "time"

// NodeDefinition is the JSON shape of a node inside a workflow definition.
type NodeDefinition struct {
	ID                string         `json:"id"                 validate:"required"`
	Name              string         `json:"name"               validate:"required,min=1"`
	Type              NodeType       `json:"type"               validate:"required,oneof=task gate join"`
	Phase             string         `json:"phase"              validate:"required"`
	WorkerType        string         `json:"worker_type"        validate:"required"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
	MaxRetries        int            `json:"max_retries"        validate:"gte=0"`
	RetryBaseDelay    time.Duration  `json:"retry_base_delay"`
	RetryMaxDelay     time.Duration  `json:"retry_max_delay"`
	Timeout           time.Duration  `json:"timeout"`
	BestEffort        bool           `json:"best_effort"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
}

// Node builds the runtime node declared by the definition.
func (d NodeDefinition) Node() *Node {
	return &Node{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		Phase:        d.Phase,
		Status:       NodeStatusPending,
		Dependencies: d.Dependencies,
		Retry: RetryPolicy{
			MaxRetries: d.MaxRetries,
			BaseDelay:  d.RetryBaseDelay,
			MaxDelay:   d.RetryMaxDelay,
		},
		Timeout:           d.Timeout,
		BestEffort:        d.BestEffort,
		EstimatedDuration: d.EstimatedDuration,
		WorkerType:        d.WorkerType,
		Config:            d.Config,
	}
}

// WorkflowDefinition is the declarative description of a phase-gated
// workflow: its phases in execution order, its nodes, and its policies.
type WorkflowDefinition struct {
	ID              string           `json:"id"               validate:"required"`
	Name            string           `json:"name"             validate:"required,min=3"`
	Description     string           `json:"description"`
	Phases          []string         `json:"phases"           validate:"required,min=1,dive,required"`
	ExecutionMode   ExecutionMode    `json:"execution_mode"   validate:"omitempty,oneof=sequential parallel mixed"`
	FailureStrategy FailureStrategy  `json:"failure_strategy" validate:"omitempty,oneof=fail_fast continue"`
	Nodes           []NodeDefinition `json:"nodes"            validate:"required,min=1,dive"`
	Variables       map[string]any   `json:"variables,omitempty"`
	Thresholds      ThresholdPolicy  `json:"thresholds"`
	Owner           string           `json:"owner"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
