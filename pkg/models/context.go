package models

import "time"

// ContextEntry is a named value written by a node and readable by later nodes
// of the same execution.
type ContextEntry struct {
	ExecutionID     string    `json:"execution_id"`
	Key             string    `json:"key"`
	Value           any       `json:"value"`
	ProducingNodeID string    `json:"producing_node_id"`
	NodeType        NodeKind  `json:"node_type"`
	Summary         string    `json:"summary,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Sequence        int64     `json:"sequence"`
}

// ContextArtifact is an immutable generated object logged alongside entries.
type ContextArtifact struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Type        string         `json:"type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
