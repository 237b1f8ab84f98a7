// Package protocol defines the contract between the engine and node executors.
package protocol

import (
	"context"

	"github.com/dukex/conduit/pkg/models"
)

// Executor performs the work of one node kind. Implementations receive the
// node with its configuration already interpolated.
type Executor interface {
	Execute(ctx context.Context, node *models.Node, execCtx *ExecutionContext, inputs map[string]any) (*Output, error)
}

// CostEstimator is implemented by executors that can price a node before it
// runs. The engine falls back to the node's cost tier otherwise.
type CostEstimator interface {
	EstimateCost(node *models.Node, execCtx *ExecutionContext) (models.CostEstimate, bool)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, node *models.Node, execCtx *ExecutionContext, inputs map[string]any) (*Output, error)

func (f ExecutorFunc) Execute(
	ctx context.Context,
	node *models.Node,
	execCtx *ExecutionContext,
	inputs map[string]any,
) (*Output, error) {
	return f(ctx, node, execCtx, inputs)
}

// Output is the result of a successful execution.
type Output struct {
	Data     map[string]any
	Metadata map[string]any
	// Cost is the actual cost of the call when the executor knows it.
	Cost *models.CostEstimate
}

// NewOutput returns an output carrying data and an empty metadata map.
func NewOutput(data map[string]any) *Output {
	if data == nil {
		data = map[string]any{}
	}

	return &Output{Data: data, Metadata: map[string]any{}}
}
