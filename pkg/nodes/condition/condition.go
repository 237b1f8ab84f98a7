// Package condition provides the condition node executor.
package condition

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/conduit/pkg/conditions"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// Executor evaluates the node expression and outputs {"result": bool}.
// Outgoing edges branch on it with conditions such as "result == true".
type Executor struct{}

// NewExecutor creates a condition executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	_ context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.ConditionConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("condition node %s has %T config", node.ID, node.Config))
	}

	expression, err := conditions.Compile(config.Expression)
	if err != nil {
		return nil, protocol.Permanent(fmt.Errorf("condition node %s: %w", node.ID, err))
	}

	result := expression.Evaluate(evaluationData(execCtx, inputs))

	execCtx.NodeLogger(node).Debug("Condition evaluated", "expression", config.Expression, "result", result)

	return protocol.NewOutput(map[string]any{"result": result}), nil
}

// evaluationData exposes the inputs at the top level, then prior node outputs
// by node ID and the workflow variables, without shadowing inputs.
func evaluationData(execCtx *protocol.ExecutionContext, inputs map[string]any) map[string]any {
	data := maps.Clone(inputs)
	if data == nil {
		data = map[string]any{}
	}

	for nodeID, output := range execCtx.NodeOutputs {
		if _, exists := data[nodeID]; !exists {
			data[nodeID] = output
		}
	}

	if _, exists := data["variables"]; !exists && execCtx.Variables != nil {
		data["variables"] = execCtx.Variables
	}

	return data
}
