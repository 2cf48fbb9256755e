// Package worker defines the contract between the executor and the units of
// work it dispatches. Worker implementations are opaque to the engine.
package worker

import (
	"context"
	"log/slog"

	"github.com/stagegate/stagegate/pkg/models"
)

// Worker executes a single node. The returned NodeResult carries outputs,
// artifacts, and an optional quality score; a non-nil error marks the attempt
// failed and eligible for retry under the node's retry policy.
type Worker interface {
	Execute(ctx context.Context, spec models.NodeSpec, wctx *models.WorkflowContext) (*models.NodeResult, error)
}

// Factory builds workers of one type from node config. Factories are
// registered at startup; the registry validates every graph against them
// before execution begins.
type Factory interface {
	Create(config map[string]any, logger *slog.Logger) (Worker, error)
	Type() string
}
