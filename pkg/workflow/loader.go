package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/stagegate/stagegate/pkg/models"
)

// ParseDefinition decodes and validates a JSON workflow definition.
func ParseDefinition(data []byte) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}

	if err := validator.New().Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &def, nil
}

// LoadDefinition reads a workflow definition from disk.
func LoadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition %s: %w", path, err)
	}

	return ParseDefinition(data)
}
