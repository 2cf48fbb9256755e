// Package state holds the in-memory execution state of a workflow run and
// checkpoints it through the persistence layer. A single Manager is owned by
// one run; all access goes through one coarse mutex.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
)

// Well-known namespaces. Callers may create additional namespaces freely;
// these are the ones the engine itself writes to.
const (
	NamespaceWorkflow   = "workflow"
	NamespacePhase      = "phase"
	NamespaceNode       = "node"
	NamespaceGovernance = "governance"
)

// Subscriber receives every state mutation synchronously, in mutation order.
// Subscribers run while the manager lock is held and must not call back into
// the Manager.
type Subscriber func(change models.StateChange)

// Manager is the namespaced key-value store for a single run. Checkpoint and
// Restore operate on the whole store atomically.
type Manager struct {
	workflowID  string
	checkpoints persistence.CheckpointRepository
	logger      *slog.Logger

	mu          sync.Mutex
	status      models.RunStatus
	namespaces  map[string]map[string]any
	subscribers []Subscriber
}

func NewManager(workflowID string, checkpoints persistence.CheckpointRepository, logger *slog.Logger) *Manager {
	return &Manager{
		workflowID:  workflowID,
		checkpoints: checkpoints,
		logger:      logger.With("module", "state", "workflow_id", workflowID),
		status:      models.RunStatusCreated,
		namespaces:  make(map[string]map[string]any),
	}
}

// Status returns the current run status.
func (m *Manager) Status() models.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// allowedTransitions is the run lifecycle state machine. Terminal states have
// no outgoing edges.
var allowedTransitions = map[models.RunStatus][]models.RunStatus{
	models.RunStatusCreated: {models.RunStatusRunning, models.RunStatusAborted},
	models.RunStatusRunning: {models.RunStatusPaused, models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusAborted},
	models.RunStatusPaused:  {models.RunStatusRunning, models.RunStatusAborted},
}

// Transition moves the run to the given status, rejecting moves the lifecycle
// does not allow.
func (m *Manager) Transition(to models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range allowedTransitions[m.status] {
		if allowed == to {
			m.logger.Debug("run status transition", "from", m.status, "to", to)
			m.status = to

			return nil
		}
	}

	return &TransitionError{From: m.status, To: to}
}

// Get returns the raw value for key in namespace.
func (m *Manager) Get(namespace, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, false
	}

	value, ok := ns[key]

	return value, ok
}

// GetInto decodes the value for key in namespace into out via a JSON round
// trip. Values read back from a restored checkpoint are generic maps; GetInto
// gives callers their typed view regardless of whether the value was set this
// run or rehydrated.
func (m *Manager) GetInto(namespace, key string, out any) error {
	value, ok := m.Get(namespace, key)
	if !ok {
		return fmt.Errorf("state: key %q not found in namespace %q", key, namespace)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encoding value for %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("state: decoding value for %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Set stores value under key in namespace and notifies subscribers.
func (m *Manager) Set(namespace, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]any)
		m.namespaces[namespace] = ns
	}

	old := ns[key]
	ns[key] = value

	m.notify(models.StateChange{
		Namespace:  namespace,
		Key:        key,
		OldValue:   old,
		NewValue:   value,
		ChangeType: models.StateChangeSet,
		Timestamp:  time.Now().UTC(),
	})
}

// Delete removes key from namespace. Deleting an absent key is a no-op and
// emits no change.
func (m *Manager) Delete(namespace, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return
	}

	old, ok := ns[key]
	if !ok {
		return
	}

	delete(ns, key)

	m.notify(models.StateChange{
		Namespace:  namespace,
		Key:        key,
		OldValue:   old,
		ChangeType: models.StateChangeDelete,
		Timestamp:  time.Now().UTC(),
	})
}

// Namespace returns a copy of every key in the namespace.
func (m *Manager) Namespace(namespace string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.namespaces[namespace]))
	for k, v := range m.namespaces[namespace] {
		out[k] = v
	}

	return out
}

// AllState returns a deep-ish copy of every namespace. Values are shared;
// callers must treat them as read-only.
func (m *Manager) AllState() map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.copyNamespaces()
}

// Subscribe registers a synchronous observer for all future mutations.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) notify(change models.StateChange) {
	for _, fn := range m.subscribers {
		fn(change)
	}
}

func (m *Manager) copyNamespaces() map[string]map[string]any {
	out := make(map[string]map[string]any, len(m.namespaces))
	for name, ns := range m.namespaces {
		copied := make(map[string]any, len(ns))
		for k, v := range ns {
			copied[k] = v
		}

		out[name] = copied
	}

	return out
}

// Checkpoint snapshots every namespace plus the run status into a single
// durable blob and records its metadata. The snapshot is taken under the
// lock, so no mutation can interleave with serialization.
func (m *Manager) Checkpoint(ctx context.Context, label string, kind models.CheckpointType) (*models.CheckpointMetadata, error) {
	m.mu.Lock()
	snap := snapshot{
		SchemaVersion: snapshotSchemaVersion,
		WorkflowID:    m.workflowID,
		Status:        m.status,
		CreatedAt:     time.Now().UTC(),
		Namespaces:    m.copyNamespaces(),
	}
	m.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("state: encoding checkpoint: %w", err)
	}

	meta := &models.CheckpointMetadata{
		CheckpointID: "ckpt-" + uuid.New().String()[:8],
		WorkflowID:   m.workflowID,
		Label:        label,
		Type:         kind,
		CreatedAt:    snap.CreatedAt,
	}

	if err := m.checkpoints.WriteBlob(ctx, meta.CheckpointID, data); err != nil {
		return nil, fmt.Errorf("state: writing checkpoint blob: %w", err)
	}

	if err := m.checkpoints.SaveMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("state: writing checkpoint metadata: %w", err)
	}

	m.logger.Info("checkpoint created", "checkpoint_id", meta.CheckpointID, "label", label, "type", kind)

	return meta, nil
}

// Restore replaces the entire in-memory state with the named checkpoint. The
// swap is atomic: on any decode failure the current state is untouched.
func (m *Manager) Restore(ctx context.Context, checkpointID string) error {
	data, err := m.checkpoints.ReadBlob(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("state: reading checkpoint %s: %w", checkpointID, err)
	}

	snap, err := decodeSnapshot(checkpointID, data)
	if err != nil {
		return err
	}

	if snap.WorkflowID != m.workflowID {
		return &CorruptionError{
			CheckpointID: checkpointID,
			Reason:       fmt.Sprintf("checkpoint belongs to workflow %q, not %q", snap.WorkflowID, m.workflowID),
		}
	}

	m.mu.Lock()
	m.namespaces = snap.Namespaces
	m.status = snap.Status
	m.mu.Unlock()

	m.logger.Info("state restored", "checkpoint_id", checkpointID, "status", snap.Status)

	return nil
}
