// Package workflow tracks live workflow runs. The registry is an explicit
// service object injected into the executor and API; nothing in the engine
// reads run state from package-level globals.
package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stagegate/stagegate/pkg/models"
)

// Registry owns the WorkflowContext of every live run. Contexts move to the
// archive when their run reaches a terminal status.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*models.WorkflowContext
	archived map[string]*models.WorkflowContext
}

func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]*models.WorkflowContext),
		archived: make(map[string]*models.WorkflowContext),
	}
}

// Register adds a run. Execution IDs are unique per run; registering a
// duplicate is a programming error surfaced to the caller.
func (r *Registry) Register(wctx *models.WorkflowContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[wctx.ExecutionID]; ok {
		return fmt.Errorf("execution %s already registered", wctx.ExecutionID)
	}

	if _, ok := r.archived[wctx.ExecutionID]; ok {
		return fmt.Errorf("execution %s already archived", wctx.ExecutionID)
	}

	r.live[wctx.ExecutionID] = wctx

	return nil
}

// Reactivate puts a resumed run back in the live set, replacing any earlier
// record of the same execution. Unlike Register it accepts runs the registry
// has already seen, paused or archived.
func (r *Registry) Reactivate(wctx *models.WorkflowContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.archived, wctx.ExecutionID)
	r.live[wctx.ExecutionID] = wctx
}

// Get returns a live or archived run context.
func (r *Registry) Get(executionID string) (*models.WorkflowContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if wctx, ok := r.live[executionID]; ok {
		return wctx, true
	}

	wctx, ok := r.archived[executionID]

	return wctx, ok
}

// List returns the live run contexts sorted by execution ID.
func (r *Registry) List() []*models.WorkflowContext {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.WorkflowContext, 0, len(r.live))
	for _, wctx := range r.live {
		out = append(out, wctx)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionID < out[j].ExecutionID })

	return out
}

// Archive moves a run out of the live set. Only terminal runs can be
// archived.
func (r *Registry) Archive(executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wctx, ok := r.live[executionID]
	if !ok {
		return fmt.Errorf("execution %s is not live", executionID)
	}

	if !wctx.Status.Terminal() {
		return fmt.Errorf("execution %s is still %s, cannot archive", executionID, wctx.Status)
	}

	delete(r.live, executionID)
	r.archived[executionID] = wctx

	return nil
}
