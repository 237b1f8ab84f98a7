package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/dukex/conduit/pkg/protocol"
)

// approvalBroker hands decisions to waiting approval nodes. A decision that
// arrives before the node starts waiting is kept until it does.
type approvalBroker struct {
	mu      sync.Mutex
	pending map[string]chan protocol.ApprovalDecision
}

func newApprovalBroker() *approvalBroker {
	return &approvalBroker{pending: make(map[string]chan protocol.ApprovalDecision)}
}

func approvalKey(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

func (b *approvalBroker) slot(key string) chan protocol.ApprovalDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.pending[key]
	if !ok {
		ch = make(chan protocol.ApprovalDecision, 1)
		b.pending[key] = ch
	}

	return ch
}

func (b *approvalBroker) Await(ctx context.Context, executionID, nodeID string) (protocol.ApprovalDecision, error) {
	key := approvalKey(executionID, nodeID)

	select {
	case decision := <-b.slot(key):
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()

		return decision, nil
	case <-ctx.Done():
		return protocol.ApprovalDecision{}, ctx.Err()
	}
}

// deliver stores decision for the node. It fails when a decision is already
// waiting to be picked up.
func (b *approvalBroker) deliver(executionID, nodeID string, decision protocol.ApprovalDecision) error {
	select {
	case b.slot(approvalKey(executionID, nodeID)) <- decision:
		return nil
	default:
		return ErrApprovalNotPending
	}
}

// forget drops every slot of the execution.
func (b *approvalBroker) forget(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := executionID + "/"
	for key := range b.pending {
		if strings.HasPrefix(key, prefix) {
			delete(b.pending, key)
		}
	}
}
