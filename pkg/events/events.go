// Package events defines the lifecycle notifications published while an
// execution runs.
package events

import (
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "conduit.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeRetriedEvent   EventType = "node.retried"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		WorkflowID:  workflowID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	UserID    string `json:"user_id"`
	IsTest    bool   `json:"is_test"`
	NodeCount int    `json:"node_count"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	FinalResults  map[string]any `json:"final_results,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	DurationMs    int64  `json:"duration_ms"`
	NodesExecuted int    `json:"nodes_executed"`
	FailedNodeID  string `json:"failed_node_id,omitempty"`
	Error         string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	CancelledNodes []string `json:"cancelled_nodes,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID     string            `json:"node_id"`
	Kind       models.NodeKind   `json:"kind"`
	Status     models.NodeStatus `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	CostUSD    float64           `json:"cost_usd,omitempty"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID           string          `json:"node_id"`
	Kind             models.NodeKind `json:"kind"`
	Error            string          `json:"error"`
	RetryCount       int             `json:"retry_count"`
	ContinuedOnError bool            `json:"continued_on_error"`
	DurationMs       int64           `json:"duration_ms"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeRetried struct {
	BaseEvent

	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
	DelayMs int64  `json:"delay_ms"`
}

func (e NodeRetried) GetType() EventType {
	return NodeRetriedEvent
}

// New returns an empty event of eventType, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}, true
	case NodeCompletedEvent:
		return &NodeCompleted{}, true
	case NodeFailedEvent:
		return &NodeFailed{}, true
	case NodeRetriedEvent:
		return &NodeRetried{}, true
	default:
		return nil, false
	}
}
