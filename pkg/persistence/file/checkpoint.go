package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// CheckpointRepository stores checkpoint blobs and metadata as files under
// <root>/checkpoints.
type CheckpointRepository struct {
	root string
}

func NewCheckpointRepository(root string) *CheckpointRepository {
	return &CheckpointRepository{root: filepath.Join(root, "checkpoints")}
}

func (cr *CheckpointRepository) blobPath(id string) string {
	return filepath.Join(cr.root, id+".blob")
}

func (cr *CheckpointRepository) metaPath(id string) string {
	return filepath.Join(cr.root, id+".json")
}

func (cr *CheckpointRepository) WriteBlob(_ context.Context, id string, data []byte) error {
	if err := os.MkdirAll(cr.root, 0o750); err != nil {
		return persistence.NewCheckpointError("WriteBlob", id, err)
	}

	if err := writeFileAtomic(cr.blobPath(id), data); err != nil {
		return persistence.NewCheckpointError("WriteBlob", id, err)
	}

	return nil
}

func (cr *CheckpointRepository) ReadBlob(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(cr.blobPath(id))
	if os.IsNotExist(err) {
		return nil, persistence.NewCheckpointError("ReadBlob", id, persistence.ErrCheckpointNotFound)
	}

	if err != nil {
		return nil, persistence.NewCheckpointError("ReadBlob", id, err)
	}

	return data, nil
}

func (cr *CheckpointRepository) SaveMetadata(_ context.Context, meta *models.CheckpointMetadata) error {
	if err := os.MkdirAll(cr.root, 0o750); err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	if err := writeFileAtomic(cr.metaPath(meta.CheckpointID), data); err != nil {
		return persistence.NewCheckpointError("SaveMetadata", meta.CheckpointID, err)
	}

	return nil
}

func (cr *CheckpointRepository) GetMetadata(_ context.Context, id string) (*models.CheckpointMetadata, error) {
	data, err := os.ReadFile(cr.metaPath(id))
	if os.IsNotExist(err) {
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

func (cr *CheckpointRepository) ListMetadata(_ context.Context, workflowID string) ([]*models.CheckpointMetadata, error) {
	root := os.DirFS(cr.root)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint files: %w", err)
	}

	out := make([]*models.CheckpointMetadata, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		data, err := fs.ReadFile(root, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint metadata %s: %w", name, err)
		}

		var meta models.CheckpointMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint metadata %s: %w", name, err)
		}

		if workflowID == "" || meta.WorkflowID == workflowID {
			out = append(out, &meta)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}
