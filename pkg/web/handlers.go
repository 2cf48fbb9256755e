// Package web provides the HTTP API for inspecting runs, managing contracts,
// and browsing checkpoints.
package web

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/executor"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/workflow"
)

type APIHandlers struct {
	runs      *workflow.Registry
	monitor   *workflow.Monitor
	contracts *contract.Manager
	store     persistence.Persistence
	registry  *registry.Registry
	publisher eventbus.EventPublisher
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	runs *workflow.Registry,
	monitor *workflow.Monitor,
	contracts *contract.Manager,
	store persistence.Persistence,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		runs:      runs,
		monitor:   monitor,
		contracts: contracts,
		store:     store,
		registry:  reg,
		publisher: publisher,
		validator: validator.New(),
		logger:    logger.With("module", "web"),
	}
}

// RegisterRoutes mounts every endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.GetHealth)

	app.Get("/runs", h.GetRuns)
	app.Post("/runs/resume", h.ResumeRun)
	app.Get("/runs/:id", h.GetRun)
	app.Get("/runs/:id/events", h.GetRunEvents)

	app.Get("/contracts", h.GetContracts)
	app.Post("/contracts", h.CreateContract)
	app.Get("/contracts/:id", h.GetContract)
	app.Post("/contracts/:id/activate", h.ActivateContract)

	app.Get("/checkpoints", h.GetCheckpoints)
	app.Get("/checkpoints/:id", h.GetCheckpoint)

	app.Get("/workers", h.GetWorkerTypes)
}

func (h *APIHandlers) GetHealth(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs := h.runs.List()

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	wctx, ok := h.runs.Get(c.Params("id"))
	if !ok {
		return notFound(c, "run not found")
	}

	return c.JSON(wctx)
}

func (h *APIHandlers) GetRunEvents(c fiber.Ctx) error {
	id := c.Params("id")

	if _, ok := h.runs.Get(id); !ok {
		return notFound(c, "run not found")
	}

	recorded := h.monitor.Events(id)

	return c.JSON(fiber.Map{
		"events":      recorded,
		"total_count": len(recorded),
	})
}

// ResumeRunRequest is the POST /runs/resume body. The definition travels
// with the request because the server does not store workflow files.
type ResumeRunRequest struct {
	CheckpointID string                    `json:"checkpoint_id" validate:"required"`
	Definition   models.WorkflowDefinition `json:"definition"    validate:"required"`
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	var req ResumeRunRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.store.Checkpoints().GetMetadata(c.Context(), req.CheckpointID); err != nil {
		return handleStoreError(c, err)
	}

	graph, err := dag.FromDefinition(&req.Definition)
	if err != nil {
		return badRequest(c, "invalid definition: "+err.Error())
	}

	stateManager := state.NewManager(req.Definition.ID, h.store.Checkpoints(), h.logger)

	exec, err := executor.NewExecutor(executor.Config{}, &req.Definition, graph, executor.Deps{
		Registry:  h.registry,
		Contracts: h.contracts,
		State:     stateManager,
		Artifacts: h.store.Artifacts(),
		Publisher: h.publisher,
		Workflows: h.runs,
		Logger:    h.logger,
	})
	if err != nil {
		return badRequest(c, err.Error())
	}

	// The run outlives the request.
	go func() {
		if _, err := exec.ResumeFromCheckpoint(context.Background(), req.CheckpointID); err != nil {
			h.logger.Error("resumed run failed",
				"workflow_id", req.Definition.ID,
				"checkpoint_id", req.CheckpointID,
				"error", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflow_id":   req.Definition.ID,
		"checkpoint_id": req.CheckpointID,
		"status":        "resuming",
	})
}

func (h *APIHandlers) GetContracts(c fiber.Ctx) error {
	teamID := c.Query("team_id")
	if teamID == "" {
		return badRequest(c, "team_id query parameter is required")
	}

	contracts, err := h.contracts.ListContracts(c.Context(), teamID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"contracts":   contracts,
		"total_count": len(contracts),
	})
}

// CreateContractRequest is the POST /contracts body.
type CreateContractRequest struct {
	TeamID        string                       `json:"team_id"       validate:"required"`
	Name          string                       `json:"name"          validate:"required,min=3"`
	Version       int                          `json:"version"       validate:"omitempty,gte=1"`
	Type          string                       `json:"type"`
	Owner         string                       `json:"owner"`
	Specification models.ContractSpecification `json:"specification" validate:"required"`
}

func (h *APIHandlers) CreateContract(c fiber.Ctx) error {
	var req CreateContractRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.contracts.CreateContract(c.Context(), &models.Contract{
		TeamID:        req.TeamID,
		Name:          req.Name,
		Version:       req.Version,
		Type:          req.Type,
		Owner:         req.Owner,
		Specification: req.Specification,
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetContract(c fiber.Ctx) error {
	found, err := h.contracts.GetContract(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) ActivateContract(c fiber.Ctx) error {
	activated, err := h.contracts.ActivateContract(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) GetCheckpoints(c fiber.Ctx) error {
	workflowID := c.Query("workflow_id")
	if workflowID == "" {
		return badRequest(c, "workflow_id query parameter is required")
	}

	metas, err := h.store.Checkpoints().ListMetadata(c.Context(), workflowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"checkpoints": metas,
		"total_count": len(metas),
	})
}

func (h *APIHandlers) GetCheckpoint(c fiber.Ctx) error {
	meta, err := h.store.Checkpoints().GetMetadata(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(meta)
}

func (h *APIHandlers) GetWorkerTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"worker_types": h.registry.Types()})
}
