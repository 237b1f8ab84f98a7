// Package web provides HTTP handlers and REST API endpoints for executions
// and budgets.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine       *engine.Engine
	contextStore *pipelinecontext.Store
	guard        *budget.Guard
	persistence  persistence.Persistence
	registry     *registry.Registry
	validator    *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

// NewAPIHandlers creates the handlers. A nil guard disables the budget
// endpoints that read or change limits.
func NewAPIHandlers(
	engine *engine.Engine,
	contextStore *pipelinecontext.Store,
	guard *budget.Guard,
	persistence persistence.Persistence,
	registry *registry.Registry,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engine:       engine,
		contextStore: contextStore,
		guard:        guard,
		persistence:  persistence,
		registry:     registry,
		validator:    validator,
		logger:       logger.With("module", "web"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	repositoryCheck := "ok"
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	registryCheck := "ok"
	if missing := h.registry.Missing(); len(missing) > 0 {
		registryCheck = "missing executors"
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": h.now(),
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	graph, err := models.ParseGraph(req.Graph)
	if err != nil {
		return handleEngineError(c, err)
	}

	// The execution outlives the request.
	id, err := h.engine.Start(context.Background(), graph, req.Input, engine.StartOptions{
		WorkflowID: req.WorkflowID,
		UserID:     req.UserID,
		IsTest:     req.IsTest,
		Variables:  req.Variables,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{ExecutionID: id})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	record, states, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(ExecutionResponse{Record: record, NodeStates: states})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.engine.Cancel(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	record, states, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(ExecutionResponse{Record: record, NodeStates: states})
}

func (h *APIHandlers) SubmitApproval(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Execution ID and node ID are required")
	}

	var req ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.Approve(c.Context(), id, nodeID, protocol.ApprovalDecision{
		Approved:  *req.Approved,
		DecidedBy: req.DecidedBy,
		Comment:   req.Comment,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": id,
		"node_id":      nodeID,
		"approved":     *req.Approved,
	})
}

func (h *APIHandlers) GetExecutionContext(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	record, _, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	// Reading loads a finished execution into memory; drop it again afterwards.
	if record.Status.IsTerminal() {
		defer h.contextStore.Release(id)
	}

	entries, err := h.contextStore.GetEntries(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	artifacts, err := h.contextStore.GetArtifacts(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ContextResponse{Entries: entries, Artifacts: artifacts})
}

func (h *APIHandlers) PurgeExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.engine.Purge(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetBudget(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	status, err := h.guard.Status(c.Context(), userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) SetBudget(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	var limits models.BudgetLimits
	if err := c.Bind().JSON(&limits); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(limits); err != nil {
		return badRequest(c, err.Error())
	}

	status, err := h.guard.SetLimits(c.Context(), userID, limits)
	if err != nil {
		return handleEngineError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Budget limits updated",
		"user_id", userID,
		"daily_limit_usd", limits.DailyLimitUSD,
		"monthly_limit_usd", limits.MonthlyLimitUSD)

	return c.JSON(status)
}

func (h *APIHandlers) ProjectBudget(c fiber.Ctx) error {
	var req ProjectionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	from := h.now()
	if req.From != nil {
		from = req.From.UTC()
	}

	var estimate models.CostEstimate
	if h.guard != nil {
		estimate = h.guard.EstimateCost(req.Model, req.Prompt, req.MaxTokens)
	} else {
		estimate = budget.EstimateCost(req.Model, req.Prompt, req.MaxTokens)
	}

	projection, err := budget.ProjectMonthlyCost(req.Cron, from, estimate)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(ProjectionResponse{Projection: projection, From: from, Estimate: estimate})
}
