// Package registry maps node kinds to executors and dispatches nodes to them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// ErrKindNotRegistered is returned when no executor serves a node kind.
var ErrKindNotRegistered = errors.New("node kind not registered")

type Registry struct {
	logger    *slog.Logger
	executors map[models.NodeKind]protocol.Executor
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log,
		executors: make(map[models.NodeKind]protocol.Executor),
	}
}

// Register replaces the executor of kind.
func (r *Registry) Register(kind models.NodeKind, executor protocol.Executor) {
	r.executors[kind] = executor

	r.logger.Debug("Registered node executor", "kind", kind, "executor", fmt.Sprintf("%T", executor))
}

// Executor returns the executor of kind.
func (r *Registry) Executor(kind models.NodeKind) (protocol.Executor, bool) {
	executor, ok := r.executors[kind]

	return executor, ok
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []models.NodeKind {
	kinds := make([]models.NodeKind, 0, len(r.executors))

	for _, kind := range models.NodeKinds {
		if _, ok := r.executors[kind]; ok {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}

// Missing returns the built-in kinds without an executor.
func (r *Registry) Missing() []models.NodeKind {
	var missing []models.NodeKind

	for _, kind := range models.NodeKinds {
		if _, ok := r.executors[kind]; !ok {
			missing = append(missing, kind)
		}
	}

	return missing
}

// Supports reports whether kind has an executor.
func (r *Registry) Supports(kind models.NodeKind) bool {
	return slices.Contains(r.Kinds(), kind)
}

// KindOf maps a typed config to its kind. The switch is exhaustive over the
// closed set of config types.
func KindOf(config models.NodeConfig) (models.NodeKind, error) {
	switch config.(type) {
	case *models.TriggerConfig:
		return models.NodeKindTrigger, nil
	case *models.ActionConfig:
		return models.NodeKindAction, nil
	case *models.ConditionConfig:
		return models.NodeKindCondition, nil
	case *models.TransformConfig:
		return models.NodeKindTransform, nil
	case *models.DelayConfig:
		return models.NodeKindDelay, nil
	case *models.HumanApprovalConfig:
		return models.NodeKindHumanApproval, nil
	case *models.LLMAgentConfig:
		return models.NodeKindLLMAgent, nil
	case *models.EndConfig:
		return models.NodeKindEnd, nil
	default:
		return "", fmt.Errorf("unsupported node config %T", config)
	}
}

// Dispatch runs node on the executor of its config type.
func (r *Registry) Dispatch(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	executor, err := r.resolve(node)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	output, err := executor.Execute(ctx, node, execCtx, inputs)
	if err != nil {
		return nil, err
	}

	if output == nil {
		output = protocol.NewOutput(nil)
	}

	if output.Data == nil {
		output.Data = map[string]any{}
	}

	if output.Metadata == nil {
		output.Metadata = map[string]any{}
	}

	return output, nil
}

// EstimateCost asks the node's executor for a pre-flight estimate.
func (r *Registry) EstimateCost(node *models.Node, execCtx *protocol.ExecutionContext) (models.CostEstimate, bool) {
	executor, err := r.resolve(node)
	if err != nil {
		return models.CostEstimate{}, false
	}

	estimator, ok := executor.(protocol.CostEstimator)
	if !ok {
		return models.CostEstimate{}, false
	}

	return estimator.EstimateCost(node, execCtx)
}

//nolint:ireturn
func (r *Registry) resolve(node *models.Node) (protocol.Executor, error) {
	kind, err := KindOf(node.Config)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}

	if kind != node.Kind {
		return nil, fmt.Errorf("node %s: kind %q does not match %s config", node.ID, node.Kind, kind)
	}

	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("node %s: %w: %s", node.ID, ErrKindNotRegistered, kind)
	}

	return executor, nil
}
