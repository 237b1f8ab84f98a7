// Package end provides the end node executor, which shapes the final output
// of an execution.
package end

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// Executor evaluates the optional output mapping. Without one, the node
// outputs its inputs.
type Executor struct{}

// NewExecutor creates an end executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	_ context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.EndConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("end node %s has %T config", node.ID, node.Config))
	}

	if len(config.Output) == 0 {
		data := maps.Clone(inputs)
		if data == nil {
			data = map[string]any{}
		}

		return protocol.NewOutput(data), nil
	}

	scope := execCtx.Scope(inputs)
	logger := execCtx.NodeLogger(node)
	data := make(map[string]any, len(config.Output))

	for key, expression := range config.Output {
		value, unresolved := scope.Value(expression)
		for _, token := range unresolved {
			logger.Warn("Unresolved template token left in place", "field", key, "token", token)
		}

		data[key] = value
	}

	return protocol.NewOutput(data), nil
}
