package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/template"
)

// ContextStore is the part of the pipeline context store executors use.
type ContextStore interface {
	Add(
		ctx context.Context,
		executionID, key string,
		value any,
		producingNodeID string,
		meta pipelinecontext.EntryMeta,
	) (*models.ContextEntry, error)
	AddArtifact(ctx context.Context, executionID string, artifact *models.ContextArtifact) error
	GetEntries(ctx context.Context, executionID string) ([]*models.ContextEntry, error)
	TrySummary(ctx context.Context, executionID string, opts pipelinecontext.SummaryOptions) (string, bool)
}

// BudgetGuard is the part of the budget guard executors use.
type BudgetGuard interface {
	EstimateCost(model, inputText string, expectedOutputTokens int) models.CostEstimate
	CostForTokens(model string, inputTokens, outputTokens int) models.CostEstimate
	CheckAvailability(ctx context.Context, userID string, estimatedCostUSD float64) error
}

// ApprovalDecision is a human verdict for a waiting approval node.
type ApprovalDecision struct {
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Approvals delivers decisions to approval nodes.
type Approvals interface {
	// Await blocks until a decision for the node arrives or ctx is done.
	Await(ctx context.Context, executionID, nodeID string) (ApprovalDecision, error)
}

// ExecutionContext is what an executor may read about the running execution.
// Maps are snapshots and must not be modified.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	UserID      string
	IsTest      bool

	Input          map[string]any
	TriggerPayload map[string]any
	NodeOutputs    map[string]map[string]any
	Variables      map[string]any

	Context   ContextStore
	Budget    BudgetGuard
	Approvals Approvals
	Logger    *slog.Logger
}

// Scope returns the interpolation scope of a node receiving inputs.
func (c *ExecutionContext) Scope(inputs map[string]any) *template.Scope {
	return &template.Scope{
		Input:          inputs,
		TriggerPayload: c.TriggerPayload,
		NodeOutputs:    c.NodeOutputs,
		Variables:      c.Variables,
	}
}

// NodeLogger returns the execution logger scoped to node.
func (c *ExecutionContext) NodeLogger(node *models.Node) *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("node_id", node.ID, "node_kind", node.Kind)
}
