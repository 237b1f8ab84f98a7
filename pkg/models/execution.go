package models

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusError
}

// CanTransitionTo enforces pending -> running -> {success, error}.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning
	case ExecutionStatusRunning:
		return next == ExecutionStatusSuccess || next == ExecutionStatusError
	default:
		return false
	}
}

// Predecessor returns the only status a record may hold before moving to s.
func (s ExecutionStatus) Predecessor() (ExecutionStatus, bool) {
	switch s {
	case ExecutionStatusRunning:
		return ExecutionStatusPending, true
	case ExecutionStatusSuccess, ExecutionStatusError:
		return ExecutionStatusRunning, true
	default:
		return "", false
	}
}

// ExecutionRecord is the persisted header of one run of a graph.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	UserID       string          `json:"user_id"`
	Status       ExecutionStatus `json:"status"`
	IsTest       bool            `json:"is_test"`
	Cancelled    bool            `json:"cancelled,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NodeStatus is the lifecycle state of a node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusError     NodeStatus = "error"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether the node reached a final state.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSuccess, NodeStatusError, NodeStatusSkipped, NodeStatusCancelled:
		return true
	default:
		return false
	}
}

// RetryAttempt records one failed invocation that was retried.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	DelayMs   int64     `json:"delay_ms"`
}

// NodeExecutionState is the persisted state of one node in one execution.
type NodeExecutionState struct {
	NodeID           string         `json:"node_id"`
	Kind             NodeKind       `json:"kind"`
	Status           NodeStatus     `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Output           map[string]any `json:"output,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Error            string         `json:"error,omitempty"`
	RetryCount       int            `json:"retry_count"`
	RetryAttempts    []RetryAttempt `json:"retry_attempts"`
	ContinuedOnError bool           `json:"continued_on_error"`
	OriginalError    string         `json:"original_error,omitempty"`
}

// NewNodeExecutionState returns a pending state for node.
func NewNodeExecutionState(node *Node) *NodeExecutionState {
	return &NodeExecutionState{
		NodeID:        node.ID,
		Kind:          node.Kind,
		Status:        NodeStatusPending,
		RetryAttempts: []RetryAttempt{},
	}
}

// AddRetryAttempt appends an attempt and keeps RetryCount in sync.
func (s *NodeExecutionState) AddRetryAttempt(attempt RetryAttempt) {
	s.RetryAttempts = append(s.RetryAttempts, attempt)
	s.RetryCount = len(s.RetryAttempts)
}

// Clone returns a deep enough copy for handing state across goroutines.
func (s *NodeExecutionState) Clone() *NodeExecutionState {
	clone := *s
	clone.RetryAttempts = append([]RetryAttempt{}, s.RetryAttempts...)

	return &clone
}
