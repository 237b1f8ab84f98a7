// Package transform provides the transform node executor, which builds an
// object from templated values.
package transform

import (
	"context"
	"fmt"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// Executor evaluates a transform mapping. A value that is exactly one token
// keeps the type of what it refers to.
type Executor struct{}

// NewExecutor creates a transform executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	_ context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.TransformConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("transform node %s has %T config", node.ID, node.Config))
	}

	scope := execCtx.Scope(inputs)
	logger := execCtx.NodeLogger(node)
	data := make(map[string]any, len(config.Mapping))

	var unresolved []string

	for key, expression := range config.Mapping {
		value, missing := scope.Value(expression)
		for _, token := range missing {
			logger.Warn("Unresolved template token left in place", "field", key, "token", token)
		}

		unresolved = append(unresolved, missing...)
		data[key] = value
	}

	output := protocol.NewOutput(data)
	if len(unresolved) > 0 {
		output.Metadata["unresolved_tokens"] = unresolved
	}

	return output, nil
}
