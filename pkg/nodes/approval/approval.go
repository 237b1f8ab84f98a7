// Package approval provides the human approval node executor.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

var (
	// ErrRejected is returned when the approver declines.
	ErrRejected = errors.New("approval rejected")

	// ErrTimeout is returned when no decision arrived within the node timeout.
	ErrTimeout = errors.New("approval timed out")

	// ErrNoApprovals is returned when the engine offers no approval channel.
	ErrNoApprovals = errors.New("approvals are not available")
)

// Executor blocks the branch until a decision is delivered.
type Executor struct{}

// NewExecutor creates an approval executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	_ map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.HumanApprovalConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("approval node %s has %T config", node.ID, node.Config))
	}

	if execCtx.Approvals == nil {
		return nil, protocol.Permanent(ErrNoApprovals)
	}

	logger := execCtx.NodeLogger(node)
	logger.InfoContext(ctx, "Waiting for approval", "prompt", config.Prompt, "approvers", config.Approvers)

	waitCtx := ctx
	if config.TimeoutMs > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(config.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	decision, err := execCtx.Approvals.Await(waitCtx, execCtx.ExecutionID, node.ID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.Permanent(ErrTimeout)
		}

		return nil, err
	}

	logger.InfoContext(ctx, "Approval decided", "approved", decision.Approved, "decided_by", decision.DecidedBy)

	if !decision.Approved {
		return nil, protocol.Permanent(fmt.Errorf("%w by %s: %s", ErrRejected, decision.DecidedBy, decision.Comment))
	}

	return protocol.NewOutput(map[string]any{
		"approved":   true,
		"prompt":     config.Prompt,
		"decided_by": decision.DecidedBy,
		"comment":    decision.Comment,
		"decided_at": decision.DecidedAt.Format(time.RFC3339),
	}), nil
}
