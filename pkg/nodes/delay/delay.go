// Package delay provides the delay node executor.
package delay

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// Executor pauses the branch and passes its inputs through.
type Executor struct{}

// NewExecutor creates a delay executor.
func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(
	ctx context.Context,
	node *models.Node,
	_ *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.DelayConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("delay node %s has %T config", node.ID, node.Config))
	}

	duration := time.Duration(config.DurationMs) * time.Millisecond

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	data := maps.Clone(inputs)
	if data == nil {
		data = map[string]any{}
	}

	output := protocol.NewOutput(data)
	output.Metadata["delayed_ms"] = config.DurationMs

	return output, nil
}
