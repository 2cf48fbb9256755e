// Package postgresql provides PostgreSQL persistence for checkpoints,
// contracts, and artifacts.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	checkpoints *CheckpointRepository
	contracts   *ContractRepository
	artifacts   *ArtifactRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs schema
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		checkpoints: &CheckpointRepository{db: database},
		contracts:   &ContractRepository{db: database},
		artifacts:   &ArtifactRepository{db: database},
	}, nil
}

func (p *Persistence) Checkpoints() persistence.CheckpointRepository {
	return p.checkpoints
}

func (p *Persistence) Contracts() persistence.ContractRepository {
	return p.contracts
}

func (p *Persistence) Artifacts() persistence.ArtifactRepository {
	return p.artifacts
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
