package file

import (
	"context"
	"testing"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRepository_BlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	repo := fp.Checkpoints()

	require.NoError(t, repo.WriteBlob(ctx, "cp-1", []byte(`{"v":1}`)))

	data, err := repo.ReadBlob(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), data)
}

func TestCheckpointRepository_ReadMissing(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())

	_, err := fp.Checkpoints().ReadBlob(ctx, "missing")

	assert.True(t, persistence.IsCheckpointNotFound(err))
}

func TestCheckpointRepository_Metadata(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.Checkpoints()

	meta := &models.CheckpointMetadata{
		CheckpointID: "cp-1",
		WorkflowID:   "wf-1",
		Type:         models.CheckpointTypeManual,
		Label:        "before review",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, repo.SaveMetadata(ctx, meta))

	got, err := repo.GetMetadata(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	other := &models.CheckpointMetadata{
		CheckpointID: "cp-2",
		WorkflowID:   "wf-2",
		Type:         models.CheckpointTypeAuto,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.SaveMetadata(ctx, other))

	listed, err := repo.ListMetadata(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "cp-1", listed[0].CheckpointID)

	all, err := repo.ListMetadata(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func draftContract(id, team, name string, version int, from, to string) *models.Contract {
	return &models.Contract{
		ID:      id,
		TeamID:  team,
		Name:    name,
		Version: version,
		Specification: models.ContractSpecification{
			FromPhase:         from,
			ToPhase:           to,
			RequiredArtifacts: []string{"design.md"},
		},
		Status:    models.ContractStatusDraft,
		CreatedAt: time.Now().UTC(),
	}
}

func TestContractRepository_ActivateRetiresPrevious(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.Contracts()

	v1 := draftContract("ct-1", "core", "design-gate", 1, "requirements", "design")
	v2 := draftContract("ct-2", "core", "design-gate", 2, "requirements", "design")

	require.NoError(t, repo.Save(ctx, v1))
	require.NoError(t, repo.Save(ctx, v2))

	_, err := repo.Activate(ctx, "ct-1")
	require.NoError(t, err)

	activated, err := repo.Activate(ctx, "ct-2")
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusActive, activated.Status)

	old, err := repo.GetByID(ctx, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusRetired, old.Status)
	assert.NotNil(t, old.RetiredAt)

	active := 0

	all, err := repo.List(ctx, "core")
	require.NoError(t, err)

	for _, c := range all {
		if c.Status == models.ContractStatusActive {
			active++
		}
	}

	assert.Equal(t, 1, active, "exactly one active contract per (team, name)")
}

func TestContractRepository_ActivateNonDraft(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.Contracts()

	contract := draftContract("ct-1", "core", "design-gate", 1, "requirements", "design")
	require.NoError(t, repo.Save(ctx, contract))

	_, err := repo.Activate(ctx, "ct-1")
	require.NoError(t, err)

	_, err = repo.Activate(ctx, "ct-1")
	assert.ErrorIs(t, err, persistence.ErrContractNotDraft)
}

func TestContractRepository_ActiveByTransition(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.Contracts()

	contract := draftContract("ct-1", "core", "design-gate", 1, "requirements", "design")
	require.NoError(t, repo.Save(ctx, contract))

	_, err := repo.ActiveByTransition(ctx, "requirements", "design")
	assert.True(t, persistence.IsNoActiveContract(err), "draft contracts are not enforced")

	_, err = repo.Activate(ctx, "ct-1")
	require.NoError(t, err)

	found, err := repo.ActiveByTransition(ctx, "requirements", "design")
	require.NoError(t, err)
	assert.Equal(t, "ct-1", found.ID)

	_, err = repo.ActiveByTransition(ctx, "design", "implementation")
	assert.True(t, persistence.IsNoActiveContract(err))
}

func TestArtifactRepository(t *testing.T) {
	ctx := context.Background()
	fp := NewPersistence(t.TempDir())
	repo := fp.Artifacts()

	require.NoError(t, repo.Persist(ctx, "design", "design.md", []byte("# Design")))
	require.NoError(t, repo.Persist(ctx, "design", "api.yaml", []byte("openapi: 3.0.0")))

	names, err := repo.List(ctx, "design")
	require.NoError(t, err)
	assert.Equal(t, []string{"api.yaml", "design.md"}, names)

	data, err := repo.Read(ctx, "design", "design.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("# Design"), data)

	empty, err := repo.List(ctx, "unknown-phase")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = repo.Read(ctx, "design", "missing.md")
	assert.True(t, persistence.IsArtifactNotFound(err))
}

func TestPersistence_HealthCheck(t *testing.T) {
	ctx := context.Background()

	fp := NewPersistence(t.TempDir())
	assert.NoError(t, fp.HealthCheck(ctx))

	missing := NewPersistence("/nonexistent/stagegate-test")
	assert.Error(t, missing.HealthCheck(ctx))
}
