// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagegate/stagegate/pkg/models"
)

// CreateTestNode creates a NodeDefinition with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.NodeDefinition)) models.NodeDefinition {
	node := models.NodeDefinition{
		ID:         uuid.New().String(),
		Name:       "Test Node",
		Type:       models.NodeTypeTask,
		Phase:      "build",
		WorkerType: "log",
		Config:     map[string]any{"message": "test", "level": "info"},
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.ID = id
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Name = name
	}
}

// WithPhase assigns the node to a phase.
func WithPhase(phase string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Phase = phase
	}
}

// WithWorkerType sets the worker type the node is dispatched to.
func WithWorkerType(workerType string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.WorkerType = workerType
	}
}

// WithDependencies sets the upstream node IDs.
func WithDependencies(deps ...string) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Dependencies = deps
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Config = config
	}
}

// WithRetries configures the retry policy.
func WithRetries(maxRetries int, baseDelay time.Duration) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.MaxRetries = maxRetries
		n.RetryBaseDelay = baseDelay
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Timeout = timeout
	}
}

// WithBestEffort marks the node as best effort.
func WithBestEffort() func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.BestEffort = true
	}
}

// WithGateNode configures the node as a phase-gate marker.
func WithGateNode() func(*models.NodeDefinition) {
	return func(n *models.NodeDefinition) {
		n.Type = models.NodeTypeGate
		n.WorkerType = "gate"
		n.Config = nil
	}
}

// CreateTestDefinition creates a single-phase workflow definition with
// default values that can be overridden.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	def := &models.WorkflowDefinition{
		ID:     uuid.New().String(),
		Name:   "Test Workflow",
		Phases: []string{"build"},
		Owner:  "test-user",
		Nodes: []models.NodeDefinition{
			CreateTestNode(WithID("node-1")),
		},
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// WithPhases sets the phase order and is usually combined with WithNodes.
func WithPhases(phases ...string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Phases = phases
	}
}

// WithNodes replaces the definition's nodes.
func WithNodes(nodes ...models.NodeDefinition) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Nodes = nodes
	}
}

// WithFailureStrategy sets the definition-level failure strategy.
func WithFailureStrategy(strategy models.FailureStrategy) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.FailureStrategy = strategy
	}
}

// WithThresholds sets the quality threshold policy.
func WithThresholds(base, increment, maxThreshold float64) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Thresholds = models.ThresholdPolicy{
			Base:      base,
			Increment: increment,
			Max:       maxThreshold,
		}
	}
}

// CreateTestDefinitionWithPhases creates a two-phase definition whose second
// phase depends on the first through a join node.
func CreateTestDefinitionWithPhases() *models.WorkflowDefinition {
	return CreateTestDefinition(
		WithPhases("design", "build"),
		WithNodes(
			CreateTestNode(WithID("draft"), WithPhase("design")),
			CreateTestNode(WithID("review"), WithPhase("design"), WithDependencies("draft")),
			CreateTestNode(WithID("assemble"), WithPhase("build"), WithDependencies("review")),
		),
	)
}
