// Package models defines the core domain models for pipeline graph execution.
package models

import (
	"encoding/json"
	"fmt"
)

// NodeKind identifies which executor runs a node.
type NodeKind string

const (
	NodeKindTrigger       NodeKind = "trigger"
	NodeKindAction        NodeKind = "action"
	NodeKindCondition     NodeKind = "condition"
	NodeKindTransform     NodeKind = "transform"
	NodeKindDelay         NodeKind = "delay"
	NodeKindHumanApproval NodeKind = "human_approval"
	NodeKindLLMAgent      NodeKind = "llm_agent"
	NodeKindEnd           NodeKind = "end"
)

// NodeKinds lists every supported node kind.
var NodeKinds = []NodeKind{
	NodeKindTrigger,
	NodeKindAction,
	NodeKindCondition,
	NodeKindTransform,
	NodeKindDelay,
	NodeKindHumanApproval,
	NodeKindLLMAgent,
	NodeKindEnd,
}

// EdgeWhen selects which source outcomes fire an edge.
type EdgeWhen string

const (
	EdgeWhenDefault EdgeWhen = ""        // Success, or error with continue_on_error
	EdgeWhenSuccess EdgeWhen = "success" // Success only
	EdgeWhenError   EdgeWhen = "error"   // Continued error only
)

// WorkflowGraph is the immutable input of an execution.
type WorkflowGraph struct {
	Nodes []*Node `json:"nodes" validate:"required,min=1,dive,required"`
	Edges []*Edge `json:"edges" validate:"dive,required"`
}

// Node is a single unit of work in a graph.
type Node struct {
	ID              string       `json:"id"                          validate:"required"`
	Kind            NodeKind     `json:"kind"                        validate:"required"`
	Label           string       `json:"label,omitempty"`
	Config          NodeConfig   `json:"config"                      validate:"-"`
	Retry           *RetryPolicy `json:"retry,omitempty"`
	ContinueOnError bool         `json:"continue_on_error,omitempty"`
	TimeoutMs       int          `json:"timeout_ms,omitempty"        validate:"min=0"`
	CostTier        *int         `json:"cost_tier,omitempty"         validate:"omitempty,min=0"`
}

// Edge connects two nodes. Condition is evaluated against the source output.
type Edge struct {
	From      string   `json:"from"                validate:"required"`
	To        string   `json:"to"                  validate:"required"`
	Condition string   `json:"condition,omitempty"`
	Optional  bool     `json:"optional,omitempty"`
	When      EdgeWhen `json:"when,omitempty"      validate:"omitempty,oneof=success error"`
}

// DisplayName returns the label when set, otherwise the node ID.
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}

	return n.ID
}

// EffectiveCostTier returns the configured cost tier, defaulting LLM nodes to 1.
func (n *Node) EffectiveCostTier() int {
	if n.CostTier != nil {
		return *n.CostTier
	}

	if n.Kind == NodeKindLLMAgent {
		return 1
	}

	return 0
}

// WithConfig returns a shallow copy of the node carrying a different config.
func (n *Node) WithConfig(config NodeConfig) *Node {
	clone := *n
	clone.Config = config

	return &clone
}

// UnmarshalJSON decodes the kind first and then the matching typed config.
func (n *Node) UnmarshalJSON(data []byte) error {
	type nodeAlias Node

	aux := struct {
		*nodeAlias

		Config json.RawMessage `json:"config"`
	}{nodeAlias: (*nodeAlias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	config, err := NewNodeConfig(n.Kind)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}

	if len(aux.Config) > 0 && string(aux.Config) != "null" {
		if err := json.Unmarshal(aux.Config, config); err != nil {
			return fmt.Errorf("node %s: invalid %s config: %w", n.ID, n.Kind, err)
		}
	}

	n.Config = config

	return nil
}

// NodeByID returns the node with the given ID.
func (g *WorkflowGraph) NodeByID(id string) (*Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// IncomingEdges returns the edges whose target is nodeID, in declaration order.
func (g *WorkflowGraph) IncomingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.To == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// OutgoingEdges returns the edges whose source is nodeID, in declaration order.
func (g *WorkflowGraph) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.From == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
