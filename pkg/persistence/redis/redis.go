// Package redis provides Redis-backed persistence for checkpoints,
// contracts, and artifacts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

const keyPrefix = "stagegate"

// Persistence implements the persistence.Persistence interface on Redis.
type Persistence struct {
	client      redis.UniversalClient
	checkpoints *CheckpointRepository
	contracts   *ContractRepository
	artifacts   *ArtifactRepository
}

// NewPersistence connects to Redis using the given URL (redis://...).
func NewPersistence(url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	return &Persistence{
		client:      client,
		checkpoints: &CheckpointRepository{client: client},
		contracts:   &ContractRepository{client: client},
		artifacts:   &ArtifactRepository{client: client},
	}, nil
}

func (rp *Persistence) Checkpoints() persistence.CheckpointRepository {
	return rp.checkpoints
}

func (rp *Persistence) Contracts() persistence.ContractRepository {
	return rp.contracts
}

func (rp *Persistence) Artifacts() persistence.ArtifactRepository {
	return rp.artifacts
}

func (rp *Persistence) HealthCheck(ctx context.Context) error {
	return rp.client.Ping(ctx).Err()
}

func (rp *Persistence) Close(_ context.Context) error {
	return rp.client.Close()
}

// CheckpointRepository stores blobs and metadata under
// stagegate:checkpoint:* keys.
type CheckpointRepository struct {
	client redis.UniversalClient
}

func checkpointBlobKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s:blob", keyPrefix, id)
}

func checkpointMetaKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s:meta", keyPrefix, id)
}

func checkpointIndexKey(workflowID string) string {
	return fmt.Sprintf("%s:checkpoints:%s", keyPrefix, workflowID)
}

func (cr *CheckpointRepository) WriteBlob(ctx context.Context, id string, data []byte) error {
	if err := cr.client.Set(ctx, checkpointBlobKey(id), data, 0).Err(); err != nil {
		return persistence.NewCheckpointError("WriteBlob", id, err)
	}

	return nil
}

func (cr *CheckpointRepository) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	data, err := cr.client.Get(ctx, checkpointBlobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, persistence.NewCheckpointError("ReadBlob", id, persistence.ErrCheckpointNotFound)
	}

	if err != nil {
		return nil, persistence.NewCheckpointError("ReadBlob", id, err)
	}

	return data, nil
}

func (cr *CheckpointRepository) SaveMetadata(ctx context.Context, meta *models.CheckpointMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	pipe := cr.client.TxPipeline()
	pipe.Set(ctx, checkpointMetaKey(meta.CheckpointID), data, 0)
	pipe.SAdd(ctx, checkpointIndexKey(meta.WorkflowID), meta.CheckpointID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	return nil
}

func (cr *CheckpointRepository) GetMetadata(ctx context.Context, id string) (*models.CheckpointMetadata, error) {
	data, err := cr.client.Get(ctx, checkpointMetaKey(id)).Bytes()
	if err == redis.Nil {
		return nil, persistence.NewCheckpointError("GetMetadata", id, persistence.ErrCheckpointNotFound)
	}

	if err != nil {
		return nil, persistence.NewCheckpointError("GetMetadata", id, err)
	}

	var meta models.CheckpointMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, persistence.NewCheckpointError("GetMetadata", id, err)
	}

	return &meta, nil
}

func (cr *CheckpointRepository) ListMetadata(ctx context.Context, workflowID string) ([]*models.CheckpointMetadata, error) {
	ids, err := cr.client.SMembers(ctx, checkpointIndexKey(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for workflow %s: %w", workflowID, err)
	}

	out := make([]*models.CheckpointMetadata, 0, len(ids))

	for _, id := range ids {
		meta, err := cr.GetMetadata(ctx, id)
		if err != nil {
			if persistence.IsCheckpointNotFound(err) {
				continue
			}

			return nil, err
		}

		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// ContractRepository stores contracts under stagegate:contract:* keys with a
// per-(team, name) active pointer for the atomic version swap.
type ContractRepository struct {
	client redis.UniversalClient
}

func contractKey(id string) string {
	return fmt.Sprintf("%s:contract:%s", keyPrefix, id)
}

func contractActiveKey(teamID, name string) string {
	return fmt.Sprintf("%s:contract-active:%s:%s", keyPrefix, teamID, name)
}

func contractIndexKey() string {
	return keyPrefix + ":contracts"
}

func (cr *ContractRepository) Save(ctx context.Context, contract *models.Contract) error {
	data, err := json.Marshal(contract)
	if err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	pipe := cr.client.TxPipeline()
	pipe.Set(ctx, contractKey(contract.ID), data, 0)
	pipe.SAdd(ctx, contractIndexKey(), contract.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewContractError("Save", contract.ID, err)
	}

	return nil
}

func (cr *ContractRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	data, err := cr.client.Get(ctx, contractKey(id)).Bytes()
	if err == redis.Nil {
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

func (cr *ContractRepository) Activate(ctx context.Context, id string) (*models.Contract, error) {
	contract, err := cr.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if contract.Status != models.ContractStatusDraft {
		return nil, persistence.NewContractError("Activate", id, persistence.ErrContractNotDraft)
	}

	now := time.Now().UTC()
	activeKey := contractActiveKey(contract.TeamID, contract.Name)

	// Retire the prior active version, then swap the active pointer and the
	// contract document in one transaction.
	priorID, err := cr.client.Get(ctx, activeKey).Result()
	if err != nil && err != redis.Nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	pipe := cr.client.TxPipeline()

	if priorID != "" && priorID != id {
		prior, err := cr.GetByID(ctx, priorID)
		if err == nil && prior.Status == models.ContractStatusActive {
			prior.Status = models.ContractStatusRetired
			prior.RetiredAt = &now

			priorData, err := json.Marshal(prior)
			if err != nil {
				return nil, persistence.NewContractError("Activate", id, err)
			}

			pipe.Set(ctx, contractKey(priorID), priorData, 0)
		}
	}

	contract.Status = models.ContractStatusActive
	contract.ActivatedAt = &now

	data, err := json.Marshal(contract)
	if err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	pipe.Set(ctx, contractKey(id), data, 0)
	pipe.Set(ctx, activeKey, id, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, persistence.NewContractError("Activate", id, err)
	}

	return contract, nil
}

func (cr *ContractRepository) ActiveByTransition(ctx context.Context, fromPhase, toPhase string) (*models.Contract, error) {
	all, err := cr.List(ctx, "")
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

func (cr *ContractRepository) List(ctx context.Context, teamID string) ([]*models.Contract, error) {
	ids, err := cr.client.SMembers(ctx, contractIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	out := make([]*models.Contract, 0, len(ids))

	for _, id := range ids {
		contract, err := cr.GetByID(ctx, id)
		if err != nil {
			if persistence.IsContractNotFound(err) {
				continue
			}

			return nil, err
		}

		if teamID == "" || contract.TeamID == teamID {
			out = append(out, contract)
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

// ArtifactRepository stores artifact payloads in per-phase hashes.
type ArtifactRepository struct {
	client redis.UniversalClient
}

func artifactKey(phase string) string {
	return fmt.Sprintf("%s:artifacts:%s", keyPrefix, phase)
}

func (ar *ArtifactRepository) Persist(ctx context.Context, phase, name string, data []byte) error {
	if err := ar.client.HSet(ctx, artifactKey(phase), name, data).Err(); err != nil {
		return fmt.Errorf("failed to persist artifact %s/%s: %w", phase, name, err)
	}

	return nil
}

func (ar *ArtifactRepository) List(ctx context.Context, phase string) ([]string, error) {
	names, err := ar.client.HKeys(ctx, artifactKey(phase)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for phase %s: %w", phase, err)
	}

	sort.Strings(names)

	return names, nil
}

func (ar *ArtifactRepository) Read(ctx context.Context, phase, name string) ([]byte, error) {
	data, err := ar.client.HGet(ctx, artifactKey(phase), name).Bytes()
	if err == redis.Nil {
		return nil, persistence.ErrArtifactNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s/%s: %w", phase, name, err)
	}

	return data, nil
}
