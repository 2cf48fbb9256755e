package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// CheckpointRepository stores checkpoint blobs and metadata in the
// checkpoints table.
type CheckpointRepository struct {
	db *sql.DB
}

func (cr *CheckpointRepository) WriteBlob(ctx context.Context, id string, data []byte) error {
	query := `
		INSERT INTO checkpoints (checkpoint_id, workflow_id, type, blob, created_at)
		VALUES ($1, '', 'auto', $2, NOW())
		ON CONFLICT (checkpoint_id) DO UPDATE SET blob = EXCLUDED.blob
	`

	_, err := cr.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return persistence.NewCheckpointError("WriteBlob", id, err)
	}

	return nil
}

func (cr *CheckpointRepository) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	var data []byte

	err := cr.db.QueryRowContext(ctx,
		"SELECT blob FROM checkpoints WHERE checkpoint_id = $1", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewCheckpointError("ReadBlob", id, persistence.ErrCheckpointNotFound)
	}

	if err != nil {
		return nil, persistence.NewCheckpointError("ReadBlob", id, err)
	}

	return data, nil
}

func (cr *CheckpointRepository) SaveMetadata(ctx context.Context, meta *models.CheckpointMetadata) error {
	query := `
		INSERT INTO checkpoints (checkpoint_id, workflow_id, label, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkpoint_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			label = EXCLUDED.label,
			type = EXCLUDED.type,
			created_at = EXCLUDED.created_at
	`

	_, err := cr.db.ExecContext(ctx, query,
		meta.CheckpointID, meta.WorkflowID, meta.Label, meta.Type, meta.CreatedAt)
	if err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	return nil
}

func (cr *CheckpointRepository) GetMetadata(ctx context.Context, id string) (*models.CheckpointMetadata, error) {
	var meta models.CheckpointMetadata

	var label sql.NullString

	err := cr.db.QueryRowContext(ctx,
		"SELECT checkpoint_id, workflow_id, label, type, created_at FROM checkpoints WHERE checkpoint_id = $1", id).
		Scan(&meta.CheckpointID, &meta.WorkflowID, &label, &meta.Type, &meta.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewCheckpointError("GetMetadata", id, persistence.ErrCheckpointNotFound)
	}

	if err != nil {
		return nil, persistence.NewCheckpointError("GetMetadata", id, err)
	}

	meta.Label = label.String

	return &meta, nil
}

func (cr *CheckpointRepository) ListMetadata(ctx context.Context, workflowID string) ([]*models.CheckpointMetadata, error) {
	query := `
		SELECT checkpoint_id, workflow_id, label, type, created_at
		FROM checkpoints
		WHERE ($1 = '' OR workflow_id = $1)
		ORDER BY created_at ASC
	`

	rows, err := cr.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.NewCheckpointError("ListMetadata", workflowID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*models.CheckpointMetadata, 0)

	for rows.Next() {
		var meta models.CheckpointMetadata

		var label sql.NullString

		err := rows.Scan(&meta.CheckpointID, &meta.WorkflowID, &label, &meta.Type, &meta.CreatedAt)
		if err != nil {
			return nil, persistence.NewCheckpointError("ListMetadata", workflowID, err)
		}

		meta.Label = label.String
		out = append(out, &meta)
	}

	return out, rows.Err()
}
