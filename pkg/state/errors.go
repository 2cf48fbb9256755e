// Package state provides the namespaced key/value store backing workflow
// resumability: subscriptions, durable checkpoints, and atomic restore.
package state

import (
	"fmt"

	"github.com/stagegate/stagegate/pkg/models"
)

// CorruptionError indicates a restore attempt found a snapshot whose schema
// or version cannot be interpreted. It is fatal to the resume attempt: the
// caller must fall back to a known-good checkpoint or start a fresh run.
type CorruptionError struct {
	CheckpointID string
	Reason       string
	Err          error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkpoint %s is corrupt: %s: %v", e.CheckpointID, e.Reason, e.Err)
	}

	return fmt.Sprintf("checkpoint %s is corrupt: %s", e.CheckpointID, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// TransitionError indicates a run-level state transition is not allowed.
type TransitionError struct {
	From models.RunStatus
	To   models.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}
