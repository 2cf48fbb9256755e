// Package persistence provides the data storage abstraction layer backing
// checkpoints, contracts, and artifacts.
package persistence

import (
	"context"

	"github.com/stagegate/stagegate/pkg/models"
)

// CheckpointRepository backs checkpoint durability: opaque snapshot blobs
// plus queryable metadata.
type CheckpointRepository interface {
	WriteBlob(ctx context.Context, id string, data []byte) error
	ReadBlob(ctx context.Context, id string) ([]byte, error)
	SaveMetadata(ctx context.Context, meta *models.CheckpointMetadata) error
	GetMetadata(ctx context.Context, id string) (*models.CheckpointMetadata, error)
	ListMetadata(ctx context.Context, workflowID string) ([]*models.CheckpointMetadata, error)
}

// ContractRepository stores versioned contracts. Activate performs the
// atomic swap: the prior ACTIVE contract for the same (team, name) is
// retired in the same operation.
type ContractRepository interface {
	Save(ctx context.Context, contract *models.Contract) error
	GetByID(ctx context.Context, id string) (*models.Contract, error)
	Activate(ctx context.Context, id string) (*models.Contract, error)
	ActiveByTransition(ctx context.Context, fromPhase, toPhase string) (*models.Contract, error)
	List(ctx context.Context, teamID string) ([]*models.Contract, error)
}

// ArtifactRepository backs the artifacts_created set of a phase result.
type ArtifactRepository interface {
	Persist(ctx context.Context, phase, name string, data []byte) error
	List(ctx context.Context, phase string) ([]string, error)
	Read(ctx context.Context, phase, name string) ([]byte, error)
}

type Persistence interface {
	Checkpoints() CheckpointRepository
	Contracts() ContractRepository
	Artifacts() ArtifactRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
