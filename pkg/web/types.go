// Package web provides HTTP request and response types for the execution API.
package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/models"
)

// StartExecutionRequest represents the request body for starting an execution.
// The graph is kept raw so it can be checked against the graph schema before
// it is decoded.
type StartExecutionRequest struct {
	WorkflowID string          `json:"workflow_id"`
	UserID     string          `json:"user_id"`
	IsTest     bool            `json:"is_test"`
	Graph      json.RawMessage `json:"graph"     validate:"required"`
	Input      map[string]any  `json:"input"`
	Variables  map[string]any  `json:"variables"`
}

type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionResponse is the persisted record of an execution with its node states.
type ExecutionResponse struct {
	Record     *models.ExecutionRecord      `json:"record"`
	NodeStates []*models.NodeExecutionState `json:"node_states"`
}

// ApprovalRequest represents a human decision for a waiting approval node.
type ApprovalRequest struct {
	Approved  *bool  `json:"approved"   validate:"required"`
	DecidedBy string `json:"decided_by"`
	Comment   string `json:"comment"`
}

// ContextResponse lists the current context entries and artifacts of an execution.
type ContextResponse struct {
	Entries   []*models.ContextEntry    `json:"entries"`
	Artifacts []*models.ContextArtifact `json:"artifacts"`
}

// ProjectionRequest asks for the monthly cost of a scheduled LLM pipeline.
type ProjectionRequest struct {
	Cron      string     `json:"cron"                validate:"required"`
	Model     string     `json:"model"               validate:"required"`
	Prompt    string     `json:"prompt"`
	MaxTokens int        `json:"max_tokens"          validate:"min=0"`
	From      *time.Time `json:"from,omitempty"`
}

// ProjectionResponse combines the per-run estimate with the monthly projection.
type ProjectionResponse struct {
	budget.Projection

	From     time.Time           `json:"from"`
	Estimate models.CostEstimate `json:"estimate"`
}
