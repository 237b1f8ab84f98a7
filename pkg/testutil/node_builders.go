// Package testutil provides graph builders for tests.
package testutil

import (
	"github.com/dukex/conduit/pkg/models"
)

// CreateTestNode creates a transform node with default values that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:   id,
		Kind: models.NodeKindTransform,
		Config: &models.TransformConfig{
			Mapping: map[string]string{"node": id},
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTrigger turns the node into the trigger entry node.
func WithTrigger() func(*models.Node) {
	return func(n *models.Node) {
		n.Kind = models.NodeKindTrigger
		n.Config = &models.TriggerConfig{Source: "test"}
	}
}

// WithConfig sets the typed config and the matching kind.
func WithConfig(config models.NodeConfig) func(*models.Node) {
	return func(n *models.Node) {
		n.Kind = config.Kind()
		n.Config = config
	}
}

// WithMapping makes the node a transform with mapping.
func WithMapping(mapping map[string]string) func(*models.Node) {
	return WithConfig(&models.TransformConfig{Mapping: mapping})
}

// WithLabel sets the display label.
func WithLabel(label string) func(*models.Node) {
	return func(n *models.Node) {
		n.Label = label
	}
}

// WithRetry sets a fixed-delay retry policy.
func WithRetry(maxAttempts, delayMs int) func(*models.Node) {
	return func(n *models.Node) {
		n.Retry = &models.RetryPolicy{MaxAttempts: maxAttempts, DelayMs: delayMs, Backoff: models.BackoffFixed}
	}
}

// WithContinueOnError lets the run proceed when the node fails.
func WithContinueOnError() func(*models.Node) {
	return func(n *models.Node) {
		n.ContinueOnError = true
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeoutMs int) func(*models.Node) {
	return func(n *models.Node) {
		n.TimeoutMs = timeoutMs
	}
}

// WithCostTier sets the cost tier.
func WithCostTier(tier int) func(*models.Node) {
	return func(n *models.Node) {
		n.CostTier = &tier
	}
}

// Edge creates an unconditional edge.
func Edge(from, to string, overrides ...func(*models.Edge)) *models.Edge {
	edge := &models.Edge{From: from, To: to}

	for _, override := range overrides {
		override(edge)
	}

	return edge
}

// When restricts the source outcomes that fire the edge.
func When(when models.EdgeWhen) func(*models.Edge) {
	return func(e *models.Edge) {
		e.When = when
	}
}

// If guards the edge with a condition on the source output.
func If(condition string) func(*models.Edge) {
	return func(e *models.Edge) {
		e.Condition = condition
	}
}

// Optional marks the edge as optional.
func Optional() func(*models.Edge) {
	return func(e *models.Edge) {
		e.Optional = true
	}
}

// Chain links nodes in order with unconditional edges.
func Chain(nodes ...*models.Node) *models.WorkflowGraph {
	graph := &models.WorkflowGraph{Nodes: nodes}

	for i := 1; i < len(nodes); i++ {
		graph.Edges = append(graph.Edges, Edge(nodes[i-1].ID, nodes[i].ID))
	}

	return graph
}
