package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// ExecutionRepository stores one directory per execution.
type ExecutionRepository struct {
	fp *Persistence
}

func (r *ExecutionRepository) recordPath(executionID string) string {
	return r.fp.path("executions", executionID, "record.json")
}

func (r *ExecutionRepository) CreateExecution(_ context.Context, record *models.ExecutionRecord) error {
	if err := validateID("execution ID", record.ID); err != nil {
		return persistence.NewExecutionError("CreateExecution", record.ID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	path := r.recordPath(record.ID)
	if _, err := os.Stat(path); err == nil {
		return persistence.NewExecutionError("CreateExecution", record.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err := writeJSON(path, record); err != nil {
		return persistence.NewExecutionError("CreateExecution", record.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateExecution(_ context.Context, record *models.ExecutionRecord) error {
	if err := validateID("execution ID", record.ID); err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	current, err := r.read(record.ID)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	if current.Status.IsTerminal() {
		return persistence.NewExecutionError("UpdateExecution", record.ID, persistence.ErrExecutionTerminal)
	}

	if !current.Status.CanTransitionTo(record.Status) {
		return persistence.NewExecutionError("UpdateExecution", record.ID,
			fmt.Errorf("%w: %s to %s", persistence.ErrInvalidTransition, current.Status, record.Status))
	}

	if err := writeJSON(r.recordPath(record.ID), record); err != nil {
		return persistence.NewExecutionError("UpdateExecution", record.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetExecution(_ context.Context, executionID string) (*models.ExecutionRecord, error) {
	if err := validateID("execution ID", executionID); err != nil {
		return nil, persistence.NewExecutionError("GetExecution", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	record, err := r.read(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("GetExecution", executionID, err)
	}

	return record, nil
}

func (r *ExecutionRepository) read(executionID string) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord

	err := readJSON(r.recordPath(executionID), &record)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	return &record, nil
}

func (r *ExecutionRepository) ExecutionsByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	entries, err := os.ReadDir(r.fp.path("executions"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.ExecutionRecord{}, nil
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	records := make([]*models.ExecutionRecord, 0)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		record, err := r.read(entry.Name())
		if err != nil {
			if errors.Is(err, persistence.ErrExecutionNotFound) {
				continue
			}

			return nil, err
		}

		if record.Status == status {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	return records, nil
}

func (r *ExecutionRepository) SaveNodeState(_ context.Context, executionID string, state *models.NodeExecutionState) error {
	if err := validateID("execution ID", executionID); err != nil {
		return persistence.NewExecutionError("SaveNodeState", executionID, err)
	}

	if err := validateID("node ID", state.NodeID); err != nil {
		return persistence.NewExecutionError("SaveNodeState", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	if _, err := os.Stat(r.recordPath(executionID)); err != nil {
		return persistence.NewExecutionError("SaveNodeState", executionID, persistence.ErrExecutionNotFound)
	}

	if err := writeJSON(r.fp.path("executions", executionID, "nodes", state.NodeID+".json"), state); err != nil {
		return persistence.NewExecutionError("SaveNodeState", executionID, err)
	}

	return nil
}

func (r *ExecutionRepository) NodeStates(_ context.Context, executionID string) ([]*models.NodeExecutionState, error) {
	if err := validateID("execution ID", executionID); err != nil {
		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	entries, err := os.ReadDir(r.fp.path("executions", executionID, "nodes"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.NodeExecutionState{}, nil
		}

		return nil, persistence.NewExecutionError("NodeStates", executionID, err)
	}

	states := make([]*models.NodeExecutionState, 0, len(entries))

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var state models.NodeExecutionState
		if err := readJSON(r.fp.path("executions", executionID, "nodes", entry.Name()), &state); err != nil {
			return nil, persistence.NewExecutionError("NodeStates", executionID, err)
		}

		states = append(states, &state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].NodeID < states[j].NodeID })

	return states, nil
}

func (r *ExecutionRepository) DeleteExecution(_ context.Context, executionID string) error {
	if err := validateID("execution ID", executionID); err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	dir := r.fp.path("executions", executionID)
	if _, err := os.Stat(dir); err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, persistence.ErrExecutionNotFound)
	}

	if err := os.RemoveAll(dir); err != nil {
		return persistence.NewExecutionError("DeleteExecution", executionID, err)
	}

	return nil
}
