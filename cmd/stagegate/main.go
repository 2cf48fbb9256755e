package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "stagegate",
		Usage:                 "Execute phase-gated workflows with checkpoints and contract gates",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewResumeCommand(),
			NewValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
