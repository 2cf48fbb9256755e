// Package contract manages versioned phase-boundary contracts and validates
// workflow state against the active contract when a phase hands off to the
// next one.
package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// Violation codes produced by ValidatePhaseBoundary.
const (
	CodeMissingArtifacts = "missing_artifacts"
	CodeMinArtifacts     = "min_artifacts"
	CodeMissingOutput    = "missing_output"
	CodeRuleViolation    = "rule_violation"
	CodeNoContract       = "no_contract"
)

// Manager owns contract lifecycle and phase-gate validation.
//
// Strict controls the behavior when a transition has no active contract:
// false (default) passes the boundary with a logged warning, true blocks it.
type Manager struct {
	contracts persistence.ContractRepository
	logger    *slog.Logger
	validate  *validator.Validate
	strict    bool
}

func NewManager(contracts persistence.ContractRepository, logger *slog.Logger, strict bool) *Manager {
	return &Manager{
		contracts: contracts,
		logger:    logger.With("module", "contract"),
		validate:  validator.New(),
		strict:    strict,
	}
}

// CreateContract registers a new DRAFT contract version. The contract is not
// enforced until activated.
func (m *Manager) CreateContract(ctx context.Context, contract *models.Contract) (*models.Contract, error) {
	if contract.ID == "" {
		contract.ID = "contract-" + uuid.New().String()[:8]
	}

	if contract.Version == 0 {
		contract.Version = 1
	}

	contract.Status = models.ContractStatusDraft
	contract.CreatedAt = time.Now().UTC()
	contract.ActivatedAt = nil
	contract.RetiredAt = nil

	if err := m.validate.Struct(contract); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}

	if len(contract.Specification.RulesSchema) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(contract.Specification.RulesSchema)); err != nil {
			return nil, fmt.Errorf("invalid rules schema for contract %s: %w", contract.ID, err)
		}
	}

	if err := m.contracts.Save(ctx, contract); err != nil {
		return nil, err
	}

	m.logger.Info("contract created",
		"contract_id", contract.ID,
		"team_id", contract.TeamID,
		"name", contract.Name,
		"version", contract.Version)

	return contract, nil
}

// ActivateContract promotes a draft to ACTIVE. The repository retires the
// previously active version of the same (team, name) in the same operation.
func (m *Manager) ActivateContract(ctx context.Context, id string) (*models.Contract, error) {
	activated, err := m.contracts.Activate(ctx, id)
	if err != nil {
		return nil, err
	}

	m.logger.Info("contract activated",
		"contract_id", activated.ID,
		"team_id", activated.TeamID,
		"name", activated.Name,
		"version", activated.Version)

	return activated, nil
}

func (m *Manager) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	return m.contracts.GetByID(ctx, id)
}

func (m *Manager) ListContracts(ctx context.Context, teamID string) ([]*models.Contract, error) {
	return m.contracts.List(ctx, teamID)
}

// ValidatePhaseBoundary checks the recorded result of fromPhase against the
// active contract guarding the fromPhase -> toPhase transition. Blocking
// violations fail the gate; warnings are recorded on the result only.
func (m *Manager) ValidatePhaseBoundary(ctx context.Context, fromPhase, toPhase string, wctx *models.WorkflowContext) (*models.ContractValidationResult, error) {
	active, err := m.contracts.ActiveByTransition(ctx, fromPhase, toPhase)
	if err != nil {
		if errors.Is(err, persistence.ErrNoActiveContract) {
			return m.noContractResult(fromPhase, toPhase), nil
		}

		return nil, fmt.Errorf("looking up contract for %s -> %s: %w", fromPhase, toPhase, err)
	}

	result := &models.ContractValidationResult{ContractID: active.ID}
	spec := active.Specification

	phaseResult, ok := wctx.Result(fromPhase)
	if !ok {
		result.Blocking = append(result.Blocking, models.Violation{
			Code:    CodeMissingOutput,
			Message: fmt.Sprintf("No recorded result for phase %q", fromPhase),
		})
		result.Passed = false

		return result, nil
	}

	m.checkArtifacts(spec, phaseResult, result)
	m.checkOutputs(spec, phaseResult, result)

	if err := m.checkRules(spec, phaseResult, result); err != nil {
		return nil, err
	}

	result.Passed = len(result.Blocking) == 0

	if result.Passed {
		m.logger.Debug("phase gate passed",
			"contract_id", active.ID, "from_phase", fromPhase, "to_phase", toPhase)
	} else {
		m.logger.Warn("phase gate blocked",
			"contract_id", active.ID,
			"from_phase", fromPhase,
			"to_phase", toPhase,
			"violations", len(result.Blocking))
	}

	return result, nil
}

func (m *Manager) noContractResult(fromPhase, toPhase string) *models.ContractValidationResult {
	if m.strict {
		return &models.ContractValidationResult{
			Passed: false,
			Blocking: []models.Violation{{
				Code:    CodeNoContract,
				Message: fmt.Sprintf("No active contract registered for transition %s -> %s", fromPhase, toPhase),
			}},
		}
	}

	m.logger.Warn("no active contract for transition, passing through",
		"from_phase", fromPhase, "to_phase", toPhase)

	return &models.ContractValidationResult{
		Passed: true,
		Warnings: []models.Violation{{
			Code:    CodeNoContract,
			Message: fmt.Sprintf("No active contract registered for transition %s -> %s", fromPhase, toPhase),
		}},
	}
}

// checkArtifacts folds every missing required artifact into one blocking
// violation so the operator sees the complete list at once.
func (m *Manager) checkArtifacts(spec models.ContractSpecification, phaseResult *models.PhaseResult, result *models.ContractValidationResult) {
	produced := make(map[string]bool, len(phaseResult.ArtifactsCreated))
	for _, name := range phaseResult.ArtifactsCreated {
		produced[name] = true
	}

	var missing []string
	for _, required := range spec.RequiredArtifacts {
		if !produced[required] {
			missing = append(missing, required)
		}
	}

	if len(missing) > 0 {
		result.Blocking = append(result.Blocking, models.Violation{
			Code:    CodeMissingArtifacts,
			Message: "Missing required artifacts: " + strings.Join(missing, ", "),
		})
	}

	if spec.MinArtifacts > 0 && len(phaseResult.ArtifactsCreated) < spec.MinArtifacts {
		result.Blocking = append(result.Blocking, models.Violation{
			Code: CodeMinArtifacts,
			Message: fmt.Sprintf("Phase produced %d artifacts, contract requires at least %d",
				len(phaseResult.ArtifactsCreated), spec.MinArtifacts),
		})
	}
}

func (m *Manager) checkOutputs(spec models.ContractSpecification, phaseResult *models.PhaseResult, result *models.ContractValidationResult) {
	for _, field := range spec.RequiredOutputs {
		if _, ok := phaseResult.Outputs[field]; !ok {
			result.Blocking = append(result.Blocking, models.Violation{
				Code:    CodeMissingOutput,
				Message: fmt.Sprintf("Required output %q not present in phase outputs", field),
			})
		}
	}
}

// checkRules evaluates the contract's JSON Schema rules against the phase
// outputs. Schema violations are blocking; a schema that cannot be evaluated
// at all is an error, not a violation.
func (m *Manager) checkRules(spec models.ContractSpecification, phaseResult *models.PhaseResult, result *models.ContractValidationResult) error {
	if len(spec.RulesSchema) == 0 {
		return nil
	}

	outputs := phaseResult.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}

	evaluated, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(spec.RulesSchema),
		gojsonschema.NewGoLoader(outputs),
	)
	if err != nil {
		return fmt.Errorf("evaluating contract rules schema: %w", err)
	}

	for _, schemaErr := range evaluated.Errors() {
		result.Blocking = append(result.Blocking, models.Violation{
			Code:    CodeRuleViolation,
			Message: schemaErr.String(),
		})
	}

	return nil
}

// EvaluateQuality checks a phase score against the progressive threshold for
// the given rework iteration (1-based). Returns the bar that applied.
func EvaluateQuality(policy models.ThresholdPolicy, iteration int, score float64) (bool, float64) {
	threshold := policy.Threshold(iteration)

	return score >= threshold, threshold
}
