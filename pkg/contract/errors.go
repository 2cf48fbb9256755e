package contract

import (
	"fmt"
	"strings"

	"github.com/stagegate/stagegate/pkg/models"
)

// ValidationError is returned when a phase boundary is blocked. It carries
// every blocking violation so callers can report them all at once.
type ValidationError struct {
	FromPhase  string
	ToPhase    string
	Violations []models.Violation
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.Message)
	}

	return fmt.Sprintf("phase gate %s -> %s blocked: %s", e.FromPhase, e.ToPhase, strings.Join(messages, "; "))
}

// GateError converts a failed validation result into a ValidationError.
// Returns nil when the result passed.
func GateError(fromPhase, toPhase string, result *models.ContractValidationResult) error {
	if result.Passed {
		return nil
	}

	return &ValidationError{FromPhase: fromPhase, ToPhase: toPhase, Violations: result.Blocking}
}
