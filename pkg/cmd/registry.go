// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/workers/command"
	logworker "github.com/stagegate/stagegate/pkg/workers/log"
)

// NewRegistry builds the worker factory table with the built-in workers
// registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(logworker.NewFactory())
	reg.Register(command.NewFactory())

	return reg
}
