package file

import (
	"context"
	"errors"
	"os"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// ContextRepository appends context writes to per-execution JSON line files.
type ContextRepository struct {
	fp *Persistence
}

func (r *ContextRepository) AppendContextEntry(_ context.Context, entry *models.ContextEntry) error {
	if err := validateID("execution ID", entry.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendContextEntry", entry.ExecutionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	if err := appendJSONLine(r.fp.path("context", entry.ExecutionID, "entries.jsonl"), entry); err != nil {
		return persistence.NewExecutionError("AppendContextEntry", entry.ExecutionID, err)
	}

	return nil
}

func (r *ContextRepository) AppendContextArtifact(_ context.Context, artifact *models.ContextArtifact) error {
	if err := validateID("execution ID", artifact.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendContextArtifact", artifact.ExecutionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	if err := appendJSONLine(r.fp.path("context", artifact.ExecutionID, "artifacts.jsonl"), artifact); err != nil {
		return persistence.NewExecutionError("AppendContextArtifact", artifact.ExecutionID, err)
	}

	return nil
}

func (r *ContextRepository) ContextEntries(_ context.Context, executionID string) ([]*models.ContextEntry, error) {
	if err := validateID("execution ID", executionID); err != nil {
		return nil, persistence.NewExecutionError("ContextEntries", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	entries, err := readJSONLines[models.ContextEntry](r.fp.path("context", executionID, "entries.jsonl"))
	if err != nil {
		return nil, persistence.NewExecutionError("ContextEntries", executionID, err)
	}

	return entries, nil
}

func (r *ContextRepository) ContextArtifacts(_ context.Context, executionID string) ([]*models.ContextArtifact, error) {
	if err := validateID("execution ID", executionID); err != nil {
		return nil, persistence.NewExecutionError("ContextArtifacts", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	artifacts, err := readJSONLines[models.ContextArtifact](r.fp.path("context", executionID, "artifacts.jsonl"))
	if err != nil {
		return nil, persistence.NewExecutionError("ContextArtifacts", executionID, err)
	}

	return artifacts, nil
}

func (r *ContextRepository) DeleteExecutionContext(_ context.Context, executionID string) error {
	if err := validateID("execution ID", executionID); err != nil {
		return persistence.NewExecutionError("DeleteExecutionContext", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	err := os.RemoveAll(r.fp.path("context", executionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return persistence.NewExecutionError("DeleteExecutionContext", executionID, err)
	}

	return nil
}
