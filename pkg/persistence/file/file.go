// Package file provides file-based persistence for checkpoints, contracts,
// and artifacts.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/stagegate/stagegate/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root        string
	checkpoints *CheckpointRepository
	contracts   *ContractRepository
	artifacts   *ArtifactRepository
}

// NewPersistence creates a new instance of Persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:        cleanRoot,
		checkpoints: NewCheckpointRepository(cleanRoot),
		contracts:   NewContractRepository(cleanRoot),
		artifacts:   NewArtifactRepository(cleanRoot),
	}
}

func (fp *Persistence) Checkpoints() persistence.CheckpointRepository {
	return fp.checkpoints
}

func (fp *Persistence) Contracts() persistence.ContractRepository {
	return fp.contracts
}

func (fp *Persistence) Artifacts() persistence.ArtifactRepository {
	return fp.artifacts
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// writeFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
