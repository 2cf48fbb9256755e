package main

import (
	"context"
	"fmt"
	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/stagegate/stagegate/pkg/cmd"
	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/workflow"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate a workflow definition without executing it",
		Flags: []cli.Flag{
			definitionFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "stagegate",
				"action", "validate",
			)

			path := command.String("workflow")

			definition, err := workflow.LoadDefinition(path)
			if err != nil {
				fmt.Printf("❌ INVALID: %v\n", err)

				return fmt.Errorf("definition %s is invalid: %w", path, err)
			}

			graph, err := dag.FromDefinition(definition)
			if err != nil {
				fmt.Printf("❌ INVALID: %v\n", err)

				return fmt.Errorf("definition %s is invalid: %w", path, err)
			}

			registry := cmd.NewRegistry(logger)
			if err := registry.ValidateGraph(graph); err != nil {
				fmt.Printf("❌ INVALID: %v\n", err)

				return fmt.Errorf("definition %s is invalid: %w", path, err)
			}

			fmt.Printf("Workflow: %s (%s)\n", definition.Name, definition.ID)
			fmt.Printf("  Phases: %d\n", len(definition.Phases))
			fmt.Printf("  Nodes:  %d\n", len(definition.Nodes))
			fmt.Println("Definition is valid! ✅")

			return nil
		},
	}
}
