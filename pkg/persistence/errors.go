// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrCheckpointNotFound indicates a checkpoint was not found by the given identifier.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrContractNotFound indicates a contract was not found by the given identifier.
	ErrContractNotFound = errors.New("contract not found")

	// ErrContractAlreadyExists indicates a contract with the same identifier already exists.
	ErrContractAlreadyExists = errors.New("contract already exists")

	// ErrContractNotDraft indicates an activation was attempted on a non-draft contract.
	ErrContractNotDraft = errors.New("contract is not in draft status")

	// ErrNoActiveContract indicates no active contract exists for the given phase transition.
	ErrNoActiveContract = errors.New("no active contract for transition")

	// ErrArtifactNotFound indicates an artifact was not found by phase and name.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// CheckpointError wraps checkpoint-related errors with additional context.
type CheckpointError struct {
	Op           string // Operation being performed (e.g., "WriteBlob", "ReadBlob")
	CheckpointID string
	Err          error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%s operation failed for checkpoint %s: %v", e.Op, e.CheckpointID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

func (e *CheckpointError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewCheckpointError creates a new checkpoint error with context.
func NewCheckpointError(op, checkpointID string, err error) *CheckpointError {
	return &CheckpointError{
		Op:           op,
		CheckpointID: checkpointID,
		Err:          err,
	}
}

// ContractError wraps contract-related errors with additional context.
type ContractError struct {
	Op         string
	ContractID string
	Err        error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s operation failed for contract %s: %v", e.Op, e.ContractID, e.Err)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

func (e *ContractError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewContractError creates a new contract error with context.
func NewContractError(op, contractID string, err error) *ContractError {
	return &ContractError{
		Op:         op,
		ContractID: contractID,
		Err:        err,
	}
}

// IsCheckpointNotFound checks if an error indicates a checkpoint was not found.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}

// IsContractNotFound checks if an error indicates a contract was not found.
func IsContractNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound)
}

// IsNoActiveContract checks if an error indicates no active contract exists for a transition.
func IsNoActiveContract(err error) bool {
	return errors.Is(err, ErrNoActiveContract)
}

// IsArtifactNotFound checks if an error indicates an artifact was not found.
func IsArtifactNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}

// IsContractAlreadyExists checks if an error indicates a duplicate contract identifier.
func IsContractAlreadyExists(err error) bool {
	return errors.Is(err, ErrContractAlreadyExists)
}

// IsContractNotDraft checks if an error indicates an activation on a non-draft contract.
func IsContractNotDraft(err error) bool {
	return errors.Is(err, ErrContractNotDraft)
}
