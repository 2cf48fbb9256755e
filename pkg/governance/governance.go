// Package governance applies organizational policy to node dispatch. The
// executor consults the policy chain before handing a node to a worker; a
// denial marks the node BLOCKED instead of running it.
package governance

import (
	"fmt"
	"sync"

	"github.com/stagegate/stagegate/pkg/models"
)

// Policy decides whether a node may be dispatched. Allow is called once per
// dispatch attempt, after retries are exhausted counting as one dispatch.
type Policy interface {
	Name() string
	Allow(spec models.NodeSpec, wctx *models.WorkflowContext) error
}

// DeniedError reports which policy blocked a node.
type DeniedError struct {
	PolicyName string
	NodeID     string
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("policy %s denied node %s: %s", e.PolicyName, e.NodeID, e.Reason)
}

// Releaser is implemented by policies that hold per-node resources between
// Allow and node completion.
type Releaser interface {
	Release(spec models.NodeSpec)
}

// Chain composes policies; the first denial wins. An empty chain allows
// everything.
type Chain struct {
	policies []Policy
}

func NewChain(policies ...Policy) *Chain {
	return &Chain{policies: policies}
}

func (c *Chain) Allow(spec models.NodeSpec, wctx *models.WorkflowContext) error {
	for i, p := range c.policies {
		if err := p.Allow(spec, wctx); err != nil {
			// Return slots granted by policies that already passed.
			for _, granted := range c.policies[:i] {
				if r, ok := granted.(Releaser); ok {
					r.Release(spec)
				}
			}

			return err
		}
	}

	return nil
}

// Release notifies resource-holding policies that the node finished. The
// executor calls it exactly once per allowed dispatch.
func (c *Chain) Release(spec models.NodeSpec) {
	for _, p := range c.policies {
		if r, ok := p.(Releaser); ok {
			r.Release(spec)
		}
	}
}

// BudgetPolicy caps the total number of node dispatches in a run. Each Allow
// that passes consumes one unit.
type BudgetPolicy struct {
	mu         sync.Mutex
	limit      int
	dispatched int
}

func NewBudgetPolicy(limit int) *BudgetPolicy {
	return &BudgetPolicy{limit: limit}
}

func (*BudgetPolicy) Name() string { return "budget" }

func (p *BudgetPolicy) Allow(spec models.NodeSpec, _ *models.WorkflowContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dispatched >= p.limit {
		return &DeniedError{
			PolicyName: p.Name(),
			NodeID:     spec.ID,
			Reason:     fmt.Sprintf("execution budget of %d nodes exhausted", p.limit),
		}
	}

	p.dispatched++

	return nil
}

// ConcurrencyPolicy caps simultaneous executions per phase, below whatever
// the executor's pool allows. Release must be called when the node finishes.
type ConcurrencyPolicy struct {
	mu          sync.Mutex
	maxPerPhase int
	inFlight    map[string]int
}

func NewConcurrencyPolicy(maxPerPhase int) *ConcurrencyPolicy {
	return &ConcurrencyPolicy{
		maxPerPhase: maxPerPhase,
		inFlight:    make(map[string]int),
	}
}

func (*ConcurrencyPolicy) Name() string { return "concurrency" }

func (p *ConcurrencyPolicy) Allow(spec models.NodeSpec, _ *models.WorkflowContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight[spec.Phase] >= p.maxPerPhase {
		return &DeniedError{
			PolicyName: p.Name(),
			NodeID:     spec.ID,
			Reason:     fmt.Sprintf("phase %q already has %d nodes in flight", spec.Phase, p.maxPerPhase),
		}
	}

	p.inFlight[spec.Phase]++

	return nil
}

// Release returns one concurrency slot to the node's phase.
func (p *ConcurrencyPolicy) Release(spec models.NodeSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight[spec.Phase] > 0 {
		p.inFlight[spec.Phase]--
	}
}

// PermissionPolicy restricts which worker types a run may dispatch.
type PermissionPolicy struct {
	allowed map[string]bool
}

func NewPermissionPolicy(allowedWorkerTypes []string) *PermissionPolicy {
	allowed := make(map[string]bool, len(allowedWorkerTypes))
	for _, t := range allowedWorkerTypes {
		allowed[t] = true
	}

	return &PermissionPolicy{allowed: allowed}
}

func (*PermissionPolicy) Name() string { return "permission" }

func (p *PermissionPolicy) Allow(spec models.NodeSpec, _ *models.WorkflowContext) error {
	if !p.allowed[spec.WorkerType] {
		return &DeniedError{
			PolicyName: p.Name(),
			NodeID:     spec.ID,
			Reason:     fmt.Sprintf("worker type %q is not permitted", spec.WorkerType),
		}
	}

	return nil
}
