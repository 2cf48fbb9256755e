package models

import "time"

// CheckpointType distinguishes operator-requested snapshots from snapshots
// taken automatically at the checkpoint cadence.
type CheckpointType string

const (
	CheckpointTypeManual CheckpointType = "manual"
	CheckpointTypeAuto   CheckpointType = "auto"
)

// CheckpointMetadata describes a durable state snapshot.
type CheckpointMetadata struct {
	CheckpointID string         `json:"checkpoint_id"`
	WorkflowID   string         `json:"workflow_id"`
	Label        string         `json:"label,omitempty"`
	Type         CheckpointType `json:"type"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StateChangeType is the kind of mutation applied to the state store.
type StateChangeType string

const (
	StateChangeSet    StateChangeType = "set"
	StateChangeDelete StateChangeType = "delete"
)

// StateChange is emitted to subscribers on every state mutation. It is never
// stored; it exists for audit trails and live UI push.
type StateChange struct {
	Namespace  string          `json:"namespace"`
	Key        string          `json:"key"`
	OldValue   any             `json:"old_value,omitempty"`
	NewValue   any             `json:"new_value,omitempty"`
	ChangeType StateChangeType `json:"change_type"`
	Timestamp  time.Time       `json:"timestamp"`
}
