package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/stagegate/stagegate/pkg/cmd"
	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/executor"
	"github.com/stagegate/stagegate/pkg/governance"
	"github.com/stagegate/stagegate/pkg/log"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/otelhelper"
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/workflow"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Execute a workflow definition from the first phase",
		Flags:   append(executionFlags(), definitionFlag()),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stagegate")

			definition, err := workflow.LoadDefinition(command.String("workflow"))
			if err != nil {
				return fmt.Errorf("loading workflow definition: %w", err)
			}

			env, err := newRunEnvironment(ctx, command, definition)
			if err != nil {
				return err
			}
			defer env.close(ctx, logger)

			ctx, stop := watchSignals(ctx, env.executor, logger)
			defer stop()

			wctx, err := env.executor.Execute(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Run failed",
					"workflow_id", definition.ID, "error", err)

				return err
			}

			logger.InfoContext(ctx, "Run finished",
				"workflow_id", wctx.WorkflowID,
				"execution_id", wctx.ExecutionID,
				"status", wctx.Status)

			return nil
		},
	}
}

// watchSignals pauses the run on the first SIGINT/SIGTERM and aborts on the
// second.
func watchSignals(ctx context.Context, exec *executor.Executor, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigs:
			logger.Info("signal received, pausing at the next phase boundary; send again to abort")
			exec.Pause()
		case <-ctx.Done():
			return
		}

		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func NewResumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume a workflow run from a checkpoint",
		Flags: append(executionFlags(),
			definitionFlag(),
			&cli.StringFlag{
				Name:     "checkpoint",
				Usage:    "Checkpoint ID to resume from",
				Required: true,
				Sources:  cli.EnvVars("CHECKPOINT_ID"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stagegate")

			definition, err := workflow.LoadDefinition(command.String("workflow"))
			if err != nil {
				return fmt.Errorf("loading workflow definition: %w", err)
			}

			env, err := newRunEnvironment(ctx, command, definition)
			if err != nil {
				return err
			}
			defer env.close(ctx, logger)

			ctx, stop := watchSignals(ctx, env.executor, logger)
			defer stop()

			wctx, err := env.executor.ResumeFromCheckpoint(ctx, command.String("checkpoint"))
			if err != nil {
				logger.ErrorContext(ctx, "Resume failed",
					"workflow_id", definition.ID,
					"checkpoint_id", command.String("checkpoint"),
					"error", err)

				return err
			}

			logger.InfoContext(ctx, "Run completed",
				"workflow_id", wctx.WorkflowID,
				"execution_id", wctx.ExecutionID,
				"status", wctx.Status)

			return nil
		},
	}
}

func definitionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "workflow",
		Aliases:  []string{"w"},
		Usage:    "Path to the workflow definition JSON file",
		Required: true,
		Sources:  cli.EnvVars("WORKFLOW_FILE"),
	}
}

func executionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (file://, redis://, postgres://)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus provider (memory, kafka)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.IntFlag{
			Name:    "max-parallel",
			Usage:   "Worker pool size for parallel node execution",
			Sources: cli.EnvVars("MAX_PARALLEL_TASKS"),
		},
		&cli.IntFlag{
			Name:    "checkpoint-every",
			Usage:   "Checkpoint after every N node completions",
			Sources: cli.EnvVars("CHECKPOINT_EVERY"),
		},
		&cli.StringFlag{
			Name:    "checkpoint-schedule",
			Usage:   "Optional cron expression for wall-clock checkpoints",
			Sources: cli.EnvVars("CHECKPOINT_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "failure-strategy",
			Usage:   "Override the definition's failure strategy (fail_fast, continue)",
			Sources: cli.EnvVars("FAILURE_STRATEGY"),
		},
		&cli.DurationFlag{
			Name:    "default-timeout",
			Usage:   "Timeout for nodes that declare none",
			Sources: cli.EnvVars("DEFAULT_NODE_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "strict-contracts",
			Usage:   "Block phase transitions that have no active contract",
			Sources: cli.EnvVars("STRICT_CONTRACTS"),
		},
		&cli.IntFlag{
			Name:    "node-budget",
			Usage:   "Maximum node executions per run (0 disables the policy)",
			Sources: cli.EnvVars("NODE_BUDGET"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Enable OpenTelemetry tracing",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

type runEnvironment struct {
	executor *executor.Executor
	store    persistence.Persistence
	bus      eventbus.EventBus
}

func newRunEnvironment(ctx context.Context, command *cli.Command, definition *models.WorkflowDefinition) (*runEnvironment, error) {
	logger := log.WithModule("stagegate").With("workflow_id", definition.ID)

	graph, err := dag.FromDefinition(definition)
	if err != nil {
		return nil, fmt.Errorf("building execution graph: %w", err)
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("initializing persistence: %w", err)
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}

	registry := cmd.NewRegistry(logger)

	stateManager := state.NewManager(definition.ID, store.Checkpoints(), logger)
	contracts := contract.NewManager(store.Contracts(), logger, command.Bool("strict-contracts"))

	var policies *governance.Chain
	if budget := command.Int("node-budget"); budget > 0 {
		policies = governance.NewChain(governance.NewBudgetPolicy(budget))
	}

	deps := executor.Deps{
		Registry:  registry,
		Contracts: contracts,
		State:     stateManager,
		Artifacts: store.Artifacts(),
		Policies:  policies,
		Publisher: bus,
		Workflows: workflow.NewRegistry(),
		Logger:    logger,
	}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "stagegate")
		if err != nil {
			return nil, fmt.Errorf("initializing tracer: %w", err)
		}

		deps.Tracer = tracer
	}

	exec, err := executor.NewExecutor(executor.Config{
		MaxParallelTasks:       command.Int("max-parallel"),
		CheckpointEvery:        command.Int("checkpoint-every"),
		FailureStrategy:        models.FailureStrategy(command.String("failure-strategy")),
		AutoCheckpointSchedule: command.String("checkpoint-schedule"),
		DefaultTimeout:         command.Duration("default-timeout"),
	}, definition, graph, deps)
	if err != nil {
		return nil, err
	}

	return &runEnvironment{executor: exec, store: store, bus: bus}, nil
}

func (env *runEnvironment) close(ctx context.Context, logger *slog.Logger) {
	if err := env.bus.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := env.store.Close(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
