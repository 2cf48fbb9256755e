// Package log provides the built-in log worker. It emits a configured
// message and succeeds; useful for smoke-testing graphs and as the minimal
// worker example.
package log

import (
	"context"
	"log/slog"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/worker"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) Type() string {
	return "log"
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (worker.Worker, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &Worker{config: config, logger: logger}, nil
}

type Worker struct {
	config map[string]any
	logger *slog.Logger
}

func (w *Worker) Execute(_ context.Context, spec models.NodeSpec, wctx *models.WorkflowContext) (*models.NodeResult, error) {
	started := time.Now().UTC()

	message, _ := w.config["message"].(string)
	if message == "" {
		message = "node executed"
	}

	level := slog.LevelInfo
	if raw, ok := w.config["level"].(string); ok {
		switch raw {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	w.logger.Log(context.Background(), level, message,
		"workflow_id", wctx.WorkflowID,
		"phase", spec.Phase,
		"node_id", spec.ID)

	completed := time.Now().UTC()

	return &models.NodeResult{
		NodeID:      spec.ID,
		Status:      models.NodeStatusSucceeded,
		Output:      map[string]any{"message": message},
		Score:       1.0,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}, nil
}
