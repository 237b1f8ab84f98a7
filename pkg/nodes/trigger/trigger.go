// Package trigger provides the entry node executor. Its output is the
// execution input.
package trigger

import (
	"context"
	"maps"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// Executor hands the execution input to the rest of the graph.
type Executor struct{}

// NewExecutor creates a trigger executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	_ context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	_ map[string]any,
) (*protocol.Output, error) {
	output := protocol.NewOutput(maps.Clone(execCtx.Input))

	if config, ok := node.Config.(*models.TriggerConfig); ok && config.Source != "" {
		output.Metadata["source"] = config.Source
	}

	return output, nil
}
