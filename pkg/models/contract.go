package models

import (
	"encoding/json"
	"time"
)

// ContractStatus represents the lifecycle state of a contract version.
type ContractStatus string

const (
	ContractStatusDraft   ContractStatus = "draft"   // Editable, not enforced
	ContractStatusActive  ContractStatus = "active"  // Enforced at its phase boundary
	ContractStatusRetired ContractStatus = "retired" // Historical, superseded by a newer version
)

// ContractSpecification describes what a phase must have produced before the
// transition it guards is permitted. RulesSchema, when present, is a JSON
// Schema document evaluated against the phase outputs.
type ContractSpecification struct {
	FromPhase         string          `json:"from_phase" validate:"required"`
	ToPhase           string          `json:"to_phase"   validate:"required"`
	RequiredArtifacts []string        `json:"required_artifacts,omitempty"`
	MinArtifacts      int             `json:"min_artifacts,omitempty"      validate:"gte=0"`
	RequiredOutputs   []string        `json:"required_outputs,omitempty"`
	RulesSchema       json.RawMessage `json:"rules_schema,omitempty"`
}

// Contract is a versioned, activatable gate specification for a single
// phase-to-phase transition. Exactly one ACTIVE contract exists per
// (team, name); contracts are immutable once active.
type Contract struct {
	ID            string                `json:"id"            validate:"required"`
	TeamID        string                `json:"team_id"       validate:"required"`
	Name          string                `json:"name"          validate:"required,min=3"`
	Version       int                   `json:"version"       validate:"gte=1"`
	Type          string                `json:"type"`
	Specification ContractSpecification `json:"specification" validate:"required"`
	Status        ContractStatus        `json:"status"        validate:"required"`
	Owner         string                `json:"owner"`
	CreatedAt     time.Time             `json:"created_at"`
	ActivatedAt   *time.Time            `json:"activated_at,omitempty"`
	RetiredAt     *time.Time            `json:"retired_at,omitempty"`
}

// Violation is a single contract-check failure.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ContractValidationResult is the outcome of validating a phase boundary.
// Blocking violations prevent advancement; warnings are recorded only.
type ContractValidationResult struct {
	ContractID string      `json:"contract_id,omitempty"`
	Passed     bool        `json:"passed"`
	Blocking   []Violation `json:"blocking_violations,omitempty"`
	Warnings   []Violation `json:"warning_violations,omitempty"`
}

// ThresholdPolicy raises the quality bar for a phase's exit gate on each
// rework iteration.
type ThresholdPolicy struct {
	Base      float64 `json:"base"      validate:"gte=0,lte=1"`
	Increment float64 `json:"increment" validate:"gte=0"`
	Max       float64 `json:"max"       validate:"gte=0,lte=1"`
}

// Threshold returns the quality bar for the given iteration (1-based),
// capped at Max.
func (p ThresholdPolicy) Threshold(iteration int) float64 {
	if iteration < 1 {
		iteration = 1
	}

	t := p.Base + p.Increment*float64(iteration-1)
	if p.Max > 0 && t > p.Max {
		return p.Max
	}

	return t
}
