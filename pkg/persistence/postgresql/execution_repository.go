package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func validateExecutionID(executionID string) error {
	if _, err := uuid.Parse(executionID); err != nil {
		return fmt.Errorf("%w: execution ID must be a UUID", persistence.ErrInvalidIdentifier)
	}

	return nil
}

// CreateExecution inserts a new execution record.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	if err := validateExecutionID(record.ID); err != nil {
		return persistence.NewExecutionError("CreateExecution", record.ID, err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, user_id, status, is_test, cancelled,
			error_message, created_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowID,
		record.UserID,
		record.Status,
		record.IsTest,
		record.Cancelled,
		nullString(record.ErrorMessage),
		record.CreatedAt,
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("CreateExecution", record.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("CreateExecution", record.ID, err)
	}

	return nil
}

// UpdateExecution applies record only when the stored status is its predecessor,
// so concurrent writers can never produce two terminal writes.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	if err := validateExecutionID(record.ID); err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	previous, ok := record.Status.Predecessor()
	if !ok {
		return persistence.NewExecutionError("UpdateExecution", record.ID,
			fmt.Errorf("%w: cannot move to %s", persistence.ErrInvalidTransition, record.Status))
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, cancelled = $3, error_message = $4, started_at = $5, completed_at = $6
		WHERE id = $1 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Status,
		record.Cancelled,
		nullString(record.ErrorMessage),
		record.StartedAt,
		record.CompletedAt,
		previous,
	)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	if affected == 1 {
		return nil
	}

	current, err := r.GetExecution(ctx, record.ID)
	if err != nil {
		return err
	}

	if current.Status.IsTerminal() {
		return persistence.NewExecutionError("UpdateExecution", record.ID, persistence.ErrExecutionTerminal)
	}

	return persistence.NewExecutionError("UpdateExecution", record.ID,
		fmt.Errorf("%w: %s to %s", persistence.ErrInvalidTransition, current.Status, record.Status))
}

// GetExecution retrieves an execution record by its ID.
func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	if err := validateExecutionID(executionID); err != nil {
		return nil, persistence.NewExecutionError("GetExecution", executionID, err)
	}

	query := `
		SELECT id, workflow_id, user_id, status, is_test, cancelled,
			   error_message, created_at, started_at, completed_at
		FROM workflow_executions
		WHERE id = $1
	`

	record, err := scanExecution(r.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetExecution", executionID, err)
	}

	return record, nil
}

// ExecutionsByStatus retrieves every execution with the given status, oldest first.
func (r *ExecutionRepository) ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT id, workflow_id, user_id, status, is_test, cancelled,
			   error_message, created_at, started_at, completed_at
		FROM workflow_executions
		WHERE status = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return records, nil
}

// SaveNodeState upserts the state of one node.
func (r *ExecutionRepository) SaveNodeState(ctx context.Context, executionID string, state *models.NodeExecutionState) error {
	if err := validateExecutionID(executionID); err != nil {
		return persistence.NewExecutionError("SaveNodeState", executionID, err)
	}

	outputJSON, err := json.Marshal(state.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}

	metadataJSON, err := json.Marshal(state.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal node metadata: %w", err)
	}

	attempts := state.RetryAttempts
	if attempts == nil {
		attempts = []models.RetryAttempt{}
	}

	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("failed to marshal retry attempts: %w", err)
	}

	query := `
		INSERT INTO node_executions (
			execution_id, node_id, kind, status, started_at, completed_at, output, metadata,
			error_message, retry_count, retry_attempts, continued_on_error, original_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			output = EXCLUDED.output,
			metadata = EXCLUDED.metadata,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			retry_attempts = EXCLUDED.retry_attempts,
			continued_on_error = EXCLUDED.continued_on_error,
			original_error = EXCLUDED.original_error
	`

	_, err = r.db.ExecContext(ctx, query,
		executionID,
		state.NodeID,
		state.Kind,
		state.Status,
		state.StartedAt,
		state.CompletedAt,
		outputJSON,
		metadataJSON,
		nullString(state.Error),
		len(attempts),
		attemptsJSON,
		state.ContinuedOnError,
		nullString(state.OriginalError),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return persistence.NewExecutionError("SaveNodeState", executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("SaveNodeState", executionID, err)
	}

	return nil
}

// NodeStates retrieves all node states of an execution.
func (r *ExecutionRepository) NodeStates(ctx context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	if err := validateExecutionID(executionID); err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	query := `
		SELECT node_id, kind, status, started_at, completed_at, output, metadata,
			   error_message, retry_count, retry_attempts, continued_on_error, original_error
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY node_id
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	states := make([]*models.NodeExecutionState, 0)

	for rows.Next() {
		state, err := scanNodeState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node state: %w", err)
		}

		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node states: %w", err)
	}

	return states, nil
}

// DeleteExecution removes a record; node states cascade.
func (r *ExecutionRepository) DeleteExecution(ctx context.Context, executionID string) error {
	if err := validateExecutionID(executionID); err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, err)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_executions WHERE id = $1", executionID)
	if err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("DeleteExecution", executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func scanExecution(row scanner) (*models.ExecutionRecord, error) {
	var (
		record       models.ExecutionRecord
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.WorkflowID,
		&record.UserID,
		&record.Status,
		&record.IsTest,
		&record.Cancelled,
		&errorMessage,
		&record.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ErrorMessage = errorMessage.String
	record.StartedAt = timePtr(startedAt)
	record.CompletedAt = timePtr(completedAt)

	return &record, nil
}

func scanNodeState(row scanner) (*models.NodeExecutionState, error) {
	var (
		state         models.NodeExecutionState
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		outputJSON    []byte
		metadataJSON  []byte
		errorMessage  sql.NullString
		attemptsJSON  []byte
		originalError sql.NullString
	)

	err := row.Scan(
		&state.NodeID,
		&state.Kind,
		&state.Status,
		&startedAt,
		&completedAt,
		&outputJSON,
		&metadataJSON,
		&errorMessage,
		&state.RetryCount,
		&attemptsJSON,
		&state.ContinuedOnError,
		&originalError,
	)
	if err != nil {
		return nil, err
	}

	state.StartedAt = timePtr(startedAt)
	state.CompletedAt = timePtr(completedAt)
	state.Error = errorMessage.String
	state.OriginalError = originalError.String

	if err := unmarshalJSONB(outputJSON, &state.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	if err := unmarshalJSONB(metadataJSON, &state.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	if err := unmarshalJSONB(attemptsJSON, &state.RetryAttempts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry attempts: %w", err)
	}

	if state.RetryAttempts == nil {
		state.RetryAttempts = []models.RetryAttempt{}
	}

	return &state, nil
}
