package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// ContextRepository handles the pipeline context log.
type ContextRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContextRepository creates a new context repository.
func NewContextRepository(db *sql.DB, logger *slog.Logger) *ContextRepository {
	return &ContextRepository{db: db, logger: logger}
}

// AppendContextEntry inserts one write of the context log.
func (r *ContextRepository) AppendContextEntry(ctx context.Context, entry *models.ContextEntry) error {
	if err := validateExecutionID(entry.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendContextEntry", entry.ExecutionID, err)
	}

	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal context value: %w", err)
	}

	query := `
		INSERT INTO context_entries (
			execution_id, sequence, key, value, producing_node_id, node_type, summary, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ExecutionID,
		entry.Sequence,
		entry.Key,
		valueJSON,
		entry.ProducingNodeID,
		entry.NodeType,
		nullString(entry.Summary),
		entry.Timestamp,
	)
	if err != nil {
		return persistence.NewExecutionError("AppendContextEntry", entry.ExecutionID, err)
	}

	return nil
}

// AppendContextArtifact inserts an artifact.
func (r *ContextRepository) AppendContextArtifact(ctx context.Context, artifact *models.ContextArtifact) error {
	if err := validateExecutionID(artifact.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendContextArtifact", artifact.ExecutionID, err)
	}

	metadataJSON, err := json.Marshal(artifact.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	query := `
		INSERT INTO context_artifacts (execution_id, id, type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		artifact.ExecutionID,
		artifact.ID,
		artifact.Type,
		artifact.Content,
		metadataJSON,
		artifact.Timestamp,
	)
	if err != nil {
		return persistence.NewExecutionError("AppendContextArtifact", artifact.ExecutionID, err)
	}

	return nil
}

// ContextEntries returns the whole log of an execution in write order.
func (r *ContextRepository) ContextEntries(ctx context.Context, executionID string) ([]*models.ContextEntry, error) {
	if err := validateExecutionID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ContextEntries", executionID, err)
	}

	query := `
		SELECT execution_id, sequence, key, value, producing_node_id, node_type, summary, created_at
		FROM context_entries
		WHERE execution_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("ContextEntries", executionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.ContextEntry, 0)

	for rows.Next() {
		var (
			entry     models.ContextEntry
			valueJSON []byte
			summary   sql.NullString
		)

		err := rows.Scan(
			&entry.ExecutionID,
			&entry.Sequence,
			&entry.Key,
			&valueJSON,
			&entry.ProducingNodeID,
			&entry.NodeType,
			&summary,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}

		if err := unmarshalJSONB(valueJSON, &entry.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context value: %w", err)
		}

		entry.Summary = summary.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating context entries: %w", err)
	}

	return entries, nil
}

// ContextArtifacts returns the artifacts of an execution in creation order.
func (r *ContextRepository) ContextArtifacts(ctx context.Context, executionID string) ([]*models.ContextArtifact, error) {
	if err := validateExecutionID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ContextArtifacts", executionID, err)
	}

	query := `
		SELECT execution_id, id, type, content, metadata, created_at
		FROM context_artifacts
		WHERE execution_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("ContextArtifacts", executionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	artifacts := make([]*models.ContextArtifact, 0)

	for rows.Next() {
		var (
			artifact     models.ContextArtifact
			metadataJSON []byte
		)

		err := rows.Scan(
			&artifact.ExecutionID,
			&artifact.ID,
			&artifact.Type,
			&artifact.Content,
			&metadataJSON,
			&artifact.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context artifact: %w", err)
		}

		if err := unmarshalJSONB(metadataJSON, &artifact.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact metadata: %w", err)
		}

		artifacts = append(artifacts, &artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating context artifacts: %w", err)
	}

	return artifacts, nil
}

// DeleteExecutionContext removes entries and artifacts of an execution.
func (r *ContextRepository) DeleteExecutionContext(ctx context.Context, executionID string) error {
	if err := validateExecutionID(executionID); err != nil {
		return persistence.NewExecutionError("DeleteExecutionContext", executionID, err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, query := range []string{
		"DELETE FROM context_entries WHERE execution_id = $1",
		"DELETE FROM context_artifacts WHERE execution_id = $1",
	} {
		if _, err := transaction.ExecContext(ctx, query, executionID); err != nil {
			_ = transaction.Rollback()

			return persistence.NewExecutionError("DeleteExecutionContext", executionID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit context deletion: %w", err)
	}

	return nil
}
