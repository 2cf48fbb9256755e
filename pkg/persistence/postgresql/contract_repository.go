package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// ContractRepository stores contracts in the contracts table. The partial
// unique index on (team_id, name) WHERE status = 'active' backs the
// one-active-contract invariant at the schema level.
type ContractRepository struct {
	db *sql.DB
}

func (cr *ContractRepository) Save(ctx context.Context, contract *models.Contract) error {
	spec, err := json.Marshal(contract.Specification)
	if err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	query := `
		INSERT INTO contracts (id, team_id, name, version, type, specification, status, owner, created_at, activated_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			specification = EXCLUDED.specification,
			status = EXCLUDED.status,
			activated_at = EXCLUDED.activated_at,
			retired_at = EXCLUDED.retired_at
	`

	_, err = cr.db.ExecContext(ctx, query,
		contract.ID, contract.TeamID, contract.Name, contract.Version, contract.Type,
		spec, contract.Status, contract.Owner, contract.CreatedAt,
		contract.ActivatedAt, contract.RetiredAt)
	if err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	return nil
}

func (cr *ContractRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	row := cr.db.QueryRowContext(ctx,
		"SELECT id, team_id, name, version, type, specification, status, owner, created_at, activated_at, retired_at FROM contracts WHERE id = $1", id)

	contract, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewContractError("GetByID", id, persistence.ErrContractNotFound)
	}

	if err != nil {
		return nil, persistence.NewContractError("GetByID", id, err)
	}

	return contract, nil
}

// Activate retires the prior active version and activates the draft in one
// transaction.
func (cr *ContractRepository) Activate(ctx context.Context, id string) (*models.Contract, error) {
	tx, err := cr.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	defer func() { _ = tx.Rollback() }()

	var teamID, name, status string

	err = tx.QueryRowContext(ctx,
		"SELECT team_id, name, status FROM contracts WHERE id = $1 FOR UPDATE", id).
		Scan(&teamID, &name, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewContractError("Activate", id, persistence.ErrContractNotFound)
	}

	if err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	if models.ContractStatus(status) != models.ContractStatusDraft {
		return nil, persistence.NewContractError("Activate", id, persistence.ErrContractNotDraft)
	}

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		"UPDATE contracts SET status = 'retired', retired_at = $1 WHERE team_id = $2 AND name = $3 AND status = 'active'",
		now, teamID, name)
	if err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE contracts SET status = 'active', activated_at = $1 WHERE id = $2", now, id)
	if err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	return cr.GetByID(ctx, id)
}

func (cr *ContractRepository) ActiveByTransition(ctx context.Context, fromPhase, toPhase string) (*models.Contract, error) {
	row := cr.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, version, type, specification, status, owner, created_at, activated_at, retired_at
		FROM contracts
		WHERE status = 'active'
			AND specification->>'from_phase' = $1
			AND specification->>'to_phase' = $2
		LIMIT 1
	`, fromPhase, toPhase)

	contract, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewContractError("ActiveByTransition",
			fmt.Sprintf("%s->%s", fromPhase, toPhase), persistence.ErrNoActiveContract)
	}

	if err != nil {
		return nil, persistence.NewContractError("ActiveByTransition",
			fmt.Sprintf("%s->%s", fromPhase, toPhase), err)
	}

	return contract, nil
}

func (cr *ContractRepository) List(ctx context.Context, teamID string) ([]*models.Contract, error) {
	query := `
		SELECT id, team_id, name, version, type, specification, status, owner, created_at, activated_at, retired_at
		FROM contracts
		WHERE ($1 = '' OR team_id = $1)
		ORDER BY name, version
	`

	rows, err := cr.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, persistence.NewContractError("List", teamID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*models.Contract, 0)

	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, persistence.NewContractError("List", teamID, err)
		}

		out = append(out, contract)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var contract models.Contract

	var spec []byte

	var contractType, owner sql.NullString

	err := row.Scan(&contract.ID, &contract.TeamID, &contract.Name, &contract.Version,
		&contractType, &spec, &contract.Status, &owner,
		&contract.CreatedAt, &contract.ActivatedAt, &contract.RetiredAt)
	if err != nil {
		return nil, err
	}

	contract.Type = contractType.String
	contract.Owner = owner.String

	if err := json.Unmarshal(spec, &contract.Specification); err != nil {
		return nil, fmt.Errorf("failed to decode contract specification: %w", err)
	}

	return &contract, nil
}
