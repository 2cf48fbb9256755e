package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/stagegate/stagegate/pkg/cmd"
	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "stagegate-api",
		Usage:                 "Inspect runs, manage contracts, and browse checkpoints",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file://, redis://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (memory, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.BoolFlag{
				Name:    "strict-contracts",
				Usage:   "Block phase transitions that have no active contract",
				Sources: cli.EnvVars("STRICT_CONTRACTS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stagegate API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger)
			contracts := contract.NewManager(store.Contracts(), logger, command.Bool("strict-contracts"))

			api, err := NewAPI(logger, store, registry, contracts, bus)
			if err != nil {
				return err
			}

			if err := bus.Subscribe(ctx); err != nil {
				return err
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
