// Package registry holds the worker factory table. The table is assembled at
// startup and validated against each workflow graph before execution, so an
// unknown worker type fails the run before any node is dispatched.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/worker"
)

type Registry struct {
	logger    *slog.Logger
	factories map[string]worker.Factory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]worker.Factory),
	}
}

func (r *Registry) Register(factory worker.Factory) {
	r.factories[factory.Type()] = factory
	r.logger.Debug("worker factory registered", "worker_type", factory.Type())
}

// CreateWorker builds a worker for the given node spec.
func (r *Registry) CreateWorker(spec models.NodeSpec) (worker.Worker, error) {
	factory, ok := r.factories[spec.WorkerType]
	if !ok {
		return nil, fmt.Errorf("worker type %q not registered", spec.WorkerType)
	}

	return factory.Create(spec.Config, r.logger.With("worker_type", spec.WorkerType, "node_id", spec.ID))
}

// ValidateGraph checks that every task node in the graph maps to a registered
// factory. Gate and join nodes carry no work and are exempt.
func (r *Registry) ValidateGraph(graph *dag.Graph) error {
	missing := make(map[string]bool)

	for _, node := range graph.Nodes() {
		if node.Type != models.NodeTypeTask {
			continue
		}

		if _, ok := r.factories[node.WorkerType]; !ok {
			missing[node.WorkerType] = true
		}
	}

	if len(missing) == 0 {
		return nil
	}

	types := make([]string, 0, len(missing))
	for t := range missing {
		types = append(types, t)
	}

	sort.Strings(types)

	return fmt.Errorf("graph %s references unregistered worker types: %s", graph.ID, strings.Join(types, ", "))
}

// Types returns the registered worker types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}
