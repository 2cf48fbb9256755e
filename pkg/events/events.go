// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/stagegate/stagegate/pkg/models"
)

type EventType string

// Topic carries all execution events.
const Topic = "stagegate.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Node lifecycle events.
	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeBlockedEvent   EventType = "node.blocked"

	// Phase lifecycle events.
	PhaseStartedEvent     EventType = "phase.started"
	PhaseCompletedEvent   EventType = "phase.completed"
	PhaseGateBlockedEvent EventType = "phase.gate.blocked"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"

	// Checkpoint events.
	CheckpointCreatedEvent EventType = "checkpoint.created"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type NodeStarted struct {
	BaseEvent

	NodeID  string `json:"node_id"`
	Phase   string `json:"phase"`
	Attempt int    `json:"attempt"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID   string         `json:"node_id"`
	Phase    string         `json:"phase"`
	Output   map[string]any `json:"output,omitempty"`
	Score    float64        `json:"score"`
	Duration time.Duration  `json:"duration"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID   string        `json:"node_id"`
	Phase    string        `json:"phase"`
	Error    string        `json:"error"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeBlocked struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

func (e NodeBlocked) GetType() EventType {
	return NodeBlockedEvent
}

type PhaseStarted struct {
	BaseEvent

	Phase     string `json:"phase"`
	Iteration int    `json:"iteration"`
}

func (e PhaseStarted) GetType() EventType {
	return PhaseStartedEvent
}

type PhaseCompleted struct {
	BaseEvent

	Phase        string        `json:"phase"`
	Iteration    int           `json:"iteration"`
	Status       string        `json:"status"`
	QualityScore float64       `json:"quality_score"`
	Duration     time.Duration `json:"duration"`
}

func (e PhaseCompleted) GetType() EventType {
	return PhaseCompletedEvent
}

// PhaseGateBlocked is emitted when a contract or quality gate stops the
// transition out of a phase.
type PhaseGateBlocked struct {
	BaseEvent

	FromPhase  string             `json:"from_phase"`
	ToPhase    string             `json:"to_phase"`
	ContractID string             `json:"contract_id,omitempty"`
	Violations []models.Violation `json:"violations,omitempty"`
}

func (e PhaseGateBlocked) GetType() EventType {
	return PhaseGateBlockedEvent
}

type RunStarted struct {
	BaseEvent

	WorkflowName string         `json:"workflow_name"`
	Variables    map[string]any `json:"variables,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	Status        string        `json:"status"`
	NodesExecuted int           `json:"nodes_executed"`
	Duration      time.Duration `json:"duration"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	Error         string        `json:"error"`
	NodesExecuted int           `json:"nodes_executed"`
	Duration      time.Duration `json:"duration"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunPaused struct {
	BaseEvent

	Reason       string `json:"reason"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

func (e RunPaused) GetType() EventType {
	return RunPausedEvent
}

type RunResumed struct {
	BaseEvent

	CheckpointID string `json:"checkpoint_id"`
}

func (e RunResumed) GetType() EventType {
	return RunResumedEvent
}

type CheckpointCreated struct {
	BaseEvent

	CheckpointID string                `json:"checkpoint_id"`
	Kind         models.CheckpointType `json:"kind"`
	Label        string                `json:"label,omitempty"`
}

func (e CheckpointCreated) GetType() EventType {
	return CheckpointCreatedEvent
}

// GetExecutionID is promoted onto every event so consumers can group a
// stream by run without switching on concrete types.
func (e BaseEvent) GetExecutionID() string {
	return e.ExecutionID
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
