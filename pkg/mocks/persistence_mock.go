package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// MockCheckpointRepository is a mock implementation of persistence.CheckpointRepository.
type MockCheckpointRepository struct {
	mock.Mock
}

func (m *MockCheckpointRepository) WriteBlob(ctx context.Context, id string, data []byte) error {
	args := m.Called(ctx, id, data)

	return args.Error(0)
}

func (m *MockCheckpointRepository) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCheckpointRepository) SaveMetadata(ctx context.Context, meta *models.CheckpointMetadata) error {
	args := m.Called(ctx, meta)

	return args.Error(0)
}

func (m *MockCheckpointRepository) GetMetadata(ctx context.Context, id string) (*models.CheckpointMetadata, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.CheckpointMetadata), args.Error(1)
}

func (m *MockCheckpointRepository) ListMetadata(ctx context.Context, workflowID string) ([]*models.CheckpointMetadata, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.CheckpointMetadata), args.Error(1)
}

// MockContractRepository is a mock implementation of persistence.ContractRepository.
type MockContractRepository struct {
	mock.Mock
}

func (m *MockContractRepository) Save(ctx context.Context, contract *models.Contract) error {
	args := m.Called(ctx, contract)

	return args.Error(0)
}

func (m *MockContractRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *MockContractRepository) Activate(ctx context.Context, id string) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *MockContractRepository) ActiveByTransition(ctx context.Context, fromPhase, toPhase string) (*models.Contract, error) {
	args := m.Called(ctx, fromPhase, toPhase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *MockContractRepository) List(ctx context.Context, teamID string) ([]*models.Contract, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Contract), args.Error(1)
}

// MockArtifactRepository is a mock implementation of persistence.ArtifactRepository.
type MockArtifactRepository struct {
	mock.Mock
}

func (m *MockArtifactRepository) Persist(ctx context.Context, phase, name string, data []byte) error {
	args := m.Called(ctx, phase, name, data)

	return args.Error(0)
}

func (m *MockArtifactRepository) List(ctx context.Context, phase string) ([]string, error) {
	args := m.Called(ctx, phase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArtifactRepository) Read(ctx context.Context, phase, name string) ([]byte, error) {
	args := m.Called(ctx, phase, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

// compile-time interface checks
var (
	_ persistence.CheckpointRepository = (*MockCheckpointRepository)(nil)
	_ persistence.ContractRepository   = (*MockContractRepository)(nil)
	_ persistence.ArtifactRepository   = (*MockArtifactRepository)(nil)
)
