package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/stagegate/stagegate/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleStoreError maps persistence sentinels to problem responses.
func handleStoreError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsContractNotFound(err):
		return notFound(c, "contract not found")
	case persistence.IsCheckpointNotFound(err):
		return notFound(c, "checkpoint not found")
	case persistence.IsContractAlreadyExists(err):
		return conflict(c, err.Error())
	case persistence.IsContractNotDraft(err):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
