package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// ContractRepository stores contracts as JSON files under <root>/contracts.
// A single mutex serializes the activate swap so exactly one contract stays
// active per (team, name).
type ContractRepository struct {
	mu   sync.Mutex
	root string
}

func NewContractRepository(root string) *ContractRepository {
	return &ContractRepository{root: filepath.Join(root, "contracts")}
}

func (cr *ContractRepository) path(id string) string {
	return filepath.Join(cr.root, id+".json")
}

func (cr *ContractRepository) Save(_ context.Context, contract *models.Contract) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	return cr.save(contract)
}

func (cr *ContractRepository) save(contract *models.Contract) error {
	if err := os.MkdirAll(cr.root, 0o750); err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	data, err := json.MarshalIndent(contract, "", "  ")
	if err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	if err := writeFileAtomic(cr.path(contract.ID), data); err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	return nil
}

func (cr *ContractRepository) GetByID(_ context.Context, id string) (*models.Contract, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	return cr.getByID(id)
}

func (cr *ContractRepository) getByID(id string) (*models.Contract, error) {
	data, err := os.ReadFile(cr.path(id))
	if os.IsNotExist(err) {
		return nil, persistence.NewContractError("GetByID", id, persistence.ErrContractNotFound)
	}

	if err != nil {
		return nil, persistence.NewContractError("GetByID", id, err)
	}

	var contract models.Contract
	if err := json.Unmarshal(data, &contract); err != nil {
		return nil, persistence.NewContractError("GetByID", id, err)
	}

	return &contract, nil
}

// Activate transitions a draft contract to active, retiring any prior active
// contract for the same (team, name) in the same critical section.
func (cr *ContractRepository) Activate(_ context.Context, id string) (*models.Contract, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	contract, err := cr.getByID(id)
	if err != nil {
		return nil, err
	}

	if contract.Status != models.ContractStatusDraft {
		return nil, persistence.NewContractError("Activate", id, persistence.ErrContractNotDraft)
	}

	now := time.Now().UTC()

	all, err := cr.list("")
	if err != nil {
		return nil, err
	}

	for _, other := range all {
		if other.ID == contract.ID || other.Status != models.ContractStatusActive {
			continue
		}

		if other.TeamID == contract.TeamID && other.Name == contract.Name {
			other.Status = models.ContractStatusRetired
			other.RetiredAt = &now

			if err := cr.save(other); err != nil {
				return nil, err
			}
		}
	}

	contract.Status = models.ContractStatusActive
	contract.ActivatedAt = &now

	if err := cr.save(contract); err != nil {
		return nil, err
	}

	return contract, nil
}

func (cr *ContractRepository) ActiveByTransition(_ context.Context, fromPhase, toPhase string) (*models.Contract, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	all, err := cr.list("")
	if err != nil {
		return nil, err
	}

	for _, contract := range all {
		if contract.Status != models.ContractStatusActive {
			continue
		}

		if contract.Specification.FromPhase == fromPhase && contract.Specification.ToPhase == toPhase {
			return contract, nil
		}
	}

	return nil, persistence.NewContractError("ActiveByTransition",
		fmt.Sprintf("%s->%s", fromPhase, toPhase), persistence.ErrNoActiveContract)
}

func (cr *ContractRepository) List(_ context.Context, teamID string) ([]*models.Contract, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	return cr.list(teamID)
}

func (cr *ContractRepository) list(teamID string) ([]*models.Contract, error) {
	root := os.DirFS(cr.root)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list contract files: %w", err)
	}

	out := make([]*models.Contract, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		data, err := fs.ReadFile(root, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read contract %s: %w", name, err)
		}

		var contract models.Contract
		if err := json.Unmarshal(data, &contract); err != nil {
			return nil, fmt.Errorf("failed to decode contract %s: %w", name, err)
		}

		if teamID == "" || contract.TeamID == teamID {
			out = append(out, &contract)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}

		return out[i].Version < out[j].Version
	})

	return out, nil
}
