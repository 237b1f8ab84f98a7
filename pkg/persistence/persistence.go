// Package persistence provides the storage abstraction for executions, the
// pipeline context and budget counters.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/conduit/pkg/models"
)

// Persistence is a storage backend. Every backend stores executions and
// context; budget counters may live in a separate store.
type Persistence interface {
	ExecutionRepository() ExecutionRepository
	ContextRepository() ContextRepository
	BudgetRepository() BudgetRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores execution records and node states.
type ExecutionRepository interface {
	// CreateExecution inserts a new record. It fails with ErrExecutionAlreadyExists
	// when the id is taken.
	CreateExecution(ctx context.Context, record *models.ExecutionRecord) error

	// UpdateExecution writes record only if the stored status may transition
	// to record.Status. Terminal records are never rewritten.
	UpdateExecution(ctx context.Context, record *models.ExecutionRecord) error

	GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error)

	// ExecutionsByStatus is used to find runs interrupted by a restart.
	ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error)

	SaveNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error
	NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error)

	// DeleteExecution removes the record and its node states.
	DeleteExecution(ctx context.Context, executionID string) error
}

// ContextRepository is the durable log behind the pipeline context store.
type ContextRepository interface {
	AppendContextEntry(ctx context.Context, entry *models.ContextEntry) error
	AppendContextArtifact(ctx context.Context, artifact *models.ContextArtifact) error

	// ContextEntries returns every write of the execution in sequence order.
	ContextEntries(ctx context.Context, executionID string) ([]*models.ContextEntry, error)
	ContextArtifacts(ctx context.Context, executionID string) ([]*models.ContextArtifact, error)

	DeleteExecutionContext(ctx context.Context, executionID string) error
}

// BudgetRepository keeps per-user spend counters. Daily and monthly windows
// roll over based on now; users without a row get defaults.
type BudgetRepository interface {
	BudgetStatus(ctx context.Context, userID string, now time.Time, defaults models.BudgetLimits) (*models.BudgetStatus, error)

	// IncrementSpendIfWithin adds amount to both windows in one atomic step,
	// only when neither limit would be exceeded. applied reports whether the
	// increment happened; status is the state after the attempt.
	IncrementSpendIfWithin(
		ctx context.Context,
		userID string,
		amount float64,
		now time.Time,
		defaults models.BudgetLimits,
	) (status *models.BudgetStatus, applied bool, err error)

	SetBudgetLimits(ctx context.Context, userID string, limits models.BudgetLimits, now time.Time) (*models.BudgetStatus, error)

	AppendSpendingRecord(ctx context.Context, record *models.SpendingRecord) error
	SpendingRecords(ctx context.Context, userID string, since time.Time) ([]*models.SpendingRecord, error)
}
