package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagegate/stagegate/pkg/persistence"
)

// ArtifactRepository stores artifact payloads in the artifacts table.
type ArtifactRepository struct {
	db *sql.DB
}

func (ar *ArtifactRepository) Persist(ctx context.Context, phase, name string, data []byte) error {
	query := `
		INSERT INTO artifacts (phase, name, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (phase, name) DO UPDATE SET data = EXCLUDED.data
	`

	_, err := ar.db.ExecContext(ctx, query, phase, name, data)
	if err != nil {
		return fmt.Errorf("failed to persist artifact %s/%s: %w", phase, name, err)
	}

	return nil
}

func (ar *ArtifactRepository) List(ctx context.Context, phase string) ([]string, error) {
	rows, err := ar.db.QueryContext(ctx,
		"SELECT name FROM artifacts WHERE phase = $1 ORDER BY name", phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for phase %s: %w", phase, err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan artifact name: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

func (ar *ArtifactRepository) Read(ctx context.Context, phase, name string) ([]byte, error) {
	var data []byte

	err := ar.db.QueryRowContext(ctx,
		"SELECT data FROM artifacts WHERE phase = $1 AND name = $2", phase, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrArtifactNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s/%s: %w", phase, name, err)
	}

	return data, nil
}
