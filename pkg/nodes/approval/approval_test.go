package approval

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channelApprovals chan protocol.ApprovalDecision

func (c channelApprovals) Await(ctx context.Context, _, _ string) (protocol.ApprovalDecision, error) {
	select {
	case decision := <-c:
		return decision, nil
	case <-ctx.Done():
		return protocol.ApprovalDecision{}, ctx.Err()
	}
}

func approvalNode(timeoutMs int) *models.Node {
	return &models.Node{
		ID:     "review",
		Kind:   models.NodeKindHumanApproval,
		Config: &models.HumanApprovalConfig{Prompt: "Send the offer?", TimeoutMs: timeoutMs},
	}
}

func TestExecutor_Approved(t *testing.T) {
	approvals := make(channelApprovals, 1)
	approvals <- protocol.ApprovalDecision{Approved: true, DecidedBy: "ana", DecidedAt: time.Now()}

	output, err := NewExecutor().Execute(context.Background(), approvalNode(0), &protocol.ExecutionContext{Approvals: approvals}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, output.Data["approved"])
	assert.Equal(t, "ana", output.Data["decided_by"])
}

func TestExecutor_RejectedIsPermanent(t *testing.T) {
	approvals := make(channelApprovals, 1)
	approvals <- protocol.ApprovalDecision{Approved: false, DecidedBy: "ana", Comment: "too early"}

	_, err := NewExecutor().Execute(context.Background(), approvalNode(0), &protocol.ExecutionContext{Approvals: approvals}, nil)
	require.ErrorIs(t, err, ErrRejected)
	assert.True(t, protocol.IsPermanent(err))
}

func TestExecutor_Timeout(t *testing.T) {
	_, err := NewExecutor().Execute(context.Background(), approvalNode(10), &protocol.ExecutionContext{Approvals: make(channelApprovals)}, nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, protocol.IsPermanent(err))
}

func TestExecutor_NoApprovals(t *testing.T) {
	_, err := NewExecutor().Execute(context.Background(), approvalNode(0), &protocol.ExecutionContext{}, nil)
	require.ErrorIs(t, err, ErrNoApprovals)
}
