package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
)

// snapshotSchemaVersion is the current on-disk checkpoint schema. Older
// snapshots are migrated forward on restore; newer or unversioned snapshots
// are rejected as corrupt.
const snapshotSchemaVersion = 2

type snapshot struct {
	SchemaVersion int                       `json:"schema_version"`
	WorkflowID    string                    `json:"workflow_id"`
	Status        models.RunStatus          `json:"status"`
	CreatedAt     time.Time                 `json:"created_at"`
	Namespaces    map[string]map[string]any `json:"namespaces"`
}

// snapshotMigrations maps a schema version to the function that lifts a raw
// snapshot document to the next version.
var snapshotMigrations = map[int]func(map[string]any) (map[string]any, error){
	// v1 stored a single flat "state" object; v2 introduced namespaces.
	1: func(raw map[string]any) (map[string]any, error) {
		flat, _ := raw["state"].(map[string]any)
		delete(raw, "state")

		raw["namespaces"] = map[string]any{
			NamespaceWorkflow: flat,
		}

		return raw, nil
	},
}

// decodeSnapshot validates the schema version, applies migrations, and
// decodes the typed snapshot. Any mismatch surfaces as a CorruptionError so
// a bad checkpoint fails immediately instead of as a missing-field bug
// later.
func decodeSnapshot(checkpointID string, data []byte) (*snapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CorruptionError{CheckpointID: checkpointID, Reason: "not valid JSON", Err: err}
	}

	versionField, ok := raw["schema_version"].(float64)
	if !ok {
		return nil, &CorruptionError{CheckpointID: checkpointID, Reason: "missing schema_version"}
	}

	version := int(versionField)
	if version > snapshotSchemaVersion {
		return nil, &CorruptionError{
			CheckpointID: checkpointID,
			Reason:       fmt.Sprintf("schema version %d is newer than supported version %d", version, snapshotSchemaVersion),
		}
	}

	for version < snapshotSchemaVersion {
		migrate, ok := snapshotMigrations[version]
		if !ok {
			return nil, &CorruptionError{
				CheckpointID: checkpointID,
				Reason:       fmt.Sprintf("no migration from schema version %d", version),
			}
		}

		migrated, err := migrate(raw)
		if err != nil {
			return nil, &CorruptionError{CheckpointID: checkpointID, Reason: "migration failed", Err: err}
		}

		raw = migrated
		version++
		raw["schema_version"] = version
	}

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, &CorruptionError{CheckpointID: checkpointID, Reason: "re-encode failed", Err: err}
	}

	var snap snapshot
	if err := json.Unmarshal(normalized, &snap); err != nil {
		return nil, &CorruptionError{CheckpointID: checkpointID, Reason: "schema mismatch", Err: err}
	}

	if snap.Namespaces == nil {
		snap.Namespaces = make(map[string]map[string]any)
	}

	return &snap, nil
}
