// Package main provides the stagegate API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/web"
	"github.com/stagegate/stagegate/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	runs        *workflow.Registry
	monitor     *workflow.Monitor
	contracts   *contract.Manager
	bus         eventbus.EventBus
}

// NewAPI builds the server around a shared run registry. The registry is fed
// two ways: by executors started through POST /runs/resume, and by the
// monitor observing the event bus for runs executed elsewhere.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	contracts *contract.Manager,
	bus eventbus.EventBus,
) (*API, error) {
	runs := workflow.NewRegistry()

	monitor := workflow.NewMonitor(runs, logger)
	if err := monitor.Attach(bus); err != nil {
		return nil, err
	}

	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		runs:        runs,
		monitor:     monitor,
		contracts:   contracts,
		bus:         bus,
	}, nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runs, a.monitor, a.contracts, a.persistence, a.registry, a.bus, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stagegate API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
