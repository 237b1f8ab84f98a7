package web

import (
	"errors"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
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

// handleEngineError maps engine, persistence and budget errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidationError(err),
		errors.Is(err, models.ErrInvalidGraphDocument),
		errors.Is(err, persistence.ErrInvalidIdentifier),
		errors.Is(err, engine.ErrNotApprovalNode),
		errors.Is(err, budget.ErrInvalidCron):
		return badRequest(c, err.Error())

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, engine.ErrNodeNotFound):
		return notFound(c, "node_not_found", err.Error())

	case errors.Is(err, engine.ErrExecutionTerminal),
		errors.Is(err, engine.ErrExecutionActive),
		errors.Is(err, engine.ErrApprovalNotPending):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
