package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/stagegate/stagegate/pkg/persistence"
)

// ArtifactRepository stores artifact payloads under <root>/artifacts/<phase>.
type ArtifactRepository struct {
	root string
}

func NewArtifactRepository(root string) *ArtifactRepository {
	return &ArtifactRepository{root: filepath.Join(root, "artifacts")}
}

func (ar *ArtifactRepository) Persist(_ context.Context, phase, name string, data []byte) error {
	dir := filepath.Join(ar.root, phase)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create artifact directory for phase %s: %w", phase, err)
	}

	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("failed to persist artifact %s/%s: %w", phase, name, err)
	}

	return nil
}

func (ar *ArtifactRepository) List(_ context.Context, phase string) ([]string, error) {
	dir := filepath.Join(ar.root, phase)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for phase %s: %w", phase, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

func (ar *ArtifactRepository) Read(_ context.Context, phase, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(ar.root, phase, name))
	if os.IsNotExist(err) {
		return nil, persistence.ErrArtifactNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s/%s: %w", phase, name, err)
	}

	return data, nil
}
