// Package command provides the built-in command worker, which runs an
// external program and captures its output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/worker"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) Type() string {
	return "command"
}

// Create validates the node config up front so a malformed command fails at
// worker construction, not mid-run.
func (f *Factory) Create(config map[string]any, logger *slog.Logger) (worker.Worker, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, errors.New("command worker requires a non-empty 'command' config key")
	}

	var args []string

	if raw, ok := config["args"].([]any); ok {
		for i, a := range raw {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("command worker arg %d is not a string", i)
			}

			args = append(args, s)
		}
	}

	artifact, _ := config["artifact"].(string)

	return &Worker{
		command:  command,
		args:     args,
		artifact: artifact,
		logger:   logger,
	}, nil
}

// Worker runs one external command per node execution. When the node config
// names an artifact, stdout is attached to the result under that name.
type Worker struct {
	command  string
	args     []string
	artifact string
	logger   *slog.Logger
}

func (w *Worker) Execute(ctx context.Context, spec models.NodeSpec, wctx *models.WorkflowContext) (*models.NodeResult, error) {
	started := time.Now().UTC()

	cmd := exec.CommandContext(ctx, w.command, w.args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.logger.Info("running command",
		"workflow_id", wctx.WorkflowID,
		"node_id", spec.ID,
		"command", w.command)

	err := cmd.Run()

	completed := time.Now().UTC()

	if err != nil {
		return nil, fmt.Errorf("command %q failed: %w (stderr: %s)",
			w.command, err, strings.TrimSpace(stderr.String()))
	}

	result := &models.NodeResult{
		NodeID: spec.ID,
		Status: models.NodeStatusSucceeded,
		Output: map[string]any{
			"stdout":    stdout.String(),
			"exit_code": 0,
		},
		Score:       1.0,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}

	if w.artifact != "" {
		result.Artifacts = map[string][]byte{w.artifact: stdout.Bytes()}
	}

	return result, nil
}
