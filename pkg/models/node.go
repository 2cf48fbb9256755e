// Package models defines the core domain models for phase-gated workflow execution.
package models

import (
	"time"
)

// NodeType represents the kind of execution node.
type NodeType string

const (
	NodeTypeTask NodeType = "task" // Regular unit of work delegated to a Worker
	NodeTypeGate NodeType = "gate" // Phase-gate marker node
	NodeTypeJoin NodeType = "join" // Synchronization point for parallel branches
)

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusBlocked   NodeStatus = "blocked"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is a terminal node state.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusBlocked, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// RetryPolicy controls per-node retry behavior. Delays grow exponentially
// from BaseDelay, doubling per attempt, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
}

// Delay returns the backoff delay before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// Node represents an execution node in a workflow DAG. A node is owned
// exclusively by the graph that declares it.
type Node struct {
	ID                string         `json:"id"         validate:"required"`
	Name              string         `json:"name"       validate:"required,min=1"`
	Type              NodeType       `json:"type"       validate:"required,oneof=task gate join"`
	Phase             string         `json:"phase"      validate:"required"`
	Status            NodeStatus     `json:"status"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Retry             RetryPolicy    `json:"retry"`
	Timeout           time.Duration  `json:"timeout"`
	BestEffort        bool           `json:"best_effort"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	WorkerType        string         `json:"worker_type" validate:"required"`
	Config            map[string]any `json:"config,omitempty"`
}

// Spec returns the immutable view of the node handed to a Worker.
func (n *Node) Spec() NodeSpec {
	return NodeSpec{
		ID:         n.ID,
		Name:       n.Name,
		Type:       n.Type,
		Phase:      n.Phase,
		WorkerType: n.WorkerType,
		Config:     n.Config,
		Timeout:    n.Timeout,
	}
}

// NodeSpec is the read-only description of a node passed to workers.
type NodeSpec struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       NodeType       `json:"type"`
	Phase      string         `json:"phase"`
	WorkerType string         `json:"worker_type"`
	Config     map[string]any `json:"config,omitempty"`
	Timeout    time.Duration  `json:"timeout"`
}

// NodeResult represents the outcome of a single node execution attempt.
// Artifacts carries produced artifact payloads by name; the executor persists
// them to the artifact store and records the names on the phase result.
type NodeResult struct {
	NodeID      string            `json:"node_id"`
	Status      NodeStatus        `json:"status"`
	Output      map[string]any    `json:"output,omitempty"`
	Artifacts   map[string][]byte `json:"artifacts,omitempty"`
	Score       float64           `json:"score"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"duration"`
}
