// Package pipelinecontext keeps the named values and artifacts that nodes of
// one execution share, and renders bounded summaries of them for prompts.
package pipelinecontext

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/google/uuid"
)

// EntryMeta describes the producer of a context entry.
type EntryMeta struct {
	NodeType models.NodeKind
	Summary  string
}

// Store is safe for concurrent use. Writes to the same key of an execution
// are serialized; writes to different keys proceed independently.
type Store struct {
	repo   persistence.ContextRepository
	logger *slog.Logger

	mu         sync.Mutex
	executions map[string]*executionContext
}

type executionContext struct {
	loadOnce sync.Once
	loadErr  error

	locksMu  sync.Mutex
	keyLocks map[string]*sync.Mutex

	mu        sync.RWMutex
	sequence  int64
	current   map[string]*models.ContextEntry
	history   []*models.ContextEntry
	artifacts []*models.ContextArtifact
}

// NewStore creates a store. repo may be nil for a purely in-memory store.
func NewStore(repo persistence.ContextRepository, logger *slog.Logger) *Store {
	return &Store{
		repo:       repo,
		logger:     logger.With("module", "pipeline_context"),
		executions: make(map[string]*executionContext),
	}
}

// Add upserts the entry for key. The previous value stays in the history.
func (s *Store) Add(
	ctx context.Context,
	executionID, key string,
	value any,
	producingNodeID string,
	meta EntryMeta,
) (*models.ContextEntry, error) {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	lock := exec.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	exec.mu.Lock()
	exec.sequence++
	entry := &models.ContextEntry{
		ExecutionID:     executionID,
		Key:             key,
		Value:           value,
		ProducingNodeID: producingNodeID,
		NodeType:        meta.NodeType,
		Summary:         meta.Summary,
		Timestamp:       time.Now().UTC(),
		Sequence:        exec.sequence,
	}
	exec.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.AppendContextEntry(ctx, entry); err != nil {
			return nil, &WriteError{ExecutionID: executionID, Key: key, Err: err}
		}
	}

	exec.mu.Lock()
	exec.history = append(exec.history, entry)
	if previous, ok := exec.current[key]; !ok || previous.Sequence < entry.Sequence {
		exec.current[key] = entry
	}
	exec.mu.Unlock()

	s.logger.DebugContext(ctx, "Context entry stored",
		"execution_id", executionID,
		"key", key,
		"node_id", producingNodeID,
		"sequence", entry.Sequence)

	return entry, nil
}

// AddArtifact appends artifact. An empty ID is replaced by a generated one.
func (s *Store) AddArtifact(ctx context.Context, executionID string, artifact *models.ContextArtifact) error {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return err
	}

	stored := *artifact
	stored.ExecutionID = executionID

	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	if s.repo != nil {
		if err := s.repo.AppendContextArtifact(ctx, &stored); err != nil {
			return &WriteError{ExecutionID: executionID, Key: "artifact:" + stored.ID, Err: err}
		}
	}

	exec.mu.Lock()
	exec.artifacts = append(exec.artifacts, &stored)
	exec.mu.Unlock()

	artifact.ID = stored.ID

	return nil
}

// GetEntries returns the current value of every key, most recent first.
func (s *Store) GetEntries(ctx context.Context, executionID string) ([]*models.ContextEntry, error) {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.RLock()
	entries := make([]*models.ContextEntry, 0, len(exec.current))
	for _, entry := range exec.current {
		entries = append(entries, entry)
	}
	exec.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence > entries[j].Sequence
	})

	return entries, nil
}

// GetHistory returns every write of the execution in the order it happened.
func (s *Store) GetHistory(ctx context.Context, executionID string) ([]*models.ContextEntry, error) {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.RLock()
	history := append([]*models.ContextEntry{}, exec.history...)
	exec.mu.RUnlock()

	sort.Slice(history, func(i, j int) bool {
		return history[i].Sequence < history[j].Sequence
	})

	return history, nil
}

// GetArtifacts returns the artifacts in insertion order.
func (s *Store) GetArtifacts(ctx context.Context, executionID string) ([]*models.ContextArtifact, error) {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.RLock()
	defer exec.mu.RUnlock()

	return append([]*models.ContextArtifact{}, exec.artifacts...), nil
}

// Release drops the in-memory copy of a finished execution. It is a no-op
// without a repository, since memory is then the only copy.
func (s *Store) Release(executionID string) {
	if s.repo == nil {
		return
	}

	s.mu.Lock()
	delete(s.executions, executionID)
	s.mu.Unlock()
}

// Purge deletes every entry and artifact of the execution.
func (s *Store) Purge(ctx context.Context, executionID string) error {
	s.mu.Lock()
	delete(s.executions, executionID)
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	if err := s.repo.DeleteExecutionContext(ctx, executionID); err != nil {
		return &WriteError{ExecutionID: executionID, Err: err}
	}

	return nil
}

func (s *Store) execution(ctx context.Context, executionID string) (*executionContext, error) {
	s.mu.Lock()
	exec, ok := s.executions[executionID]
	if !ok {
		exec = &executionContext{
			keyLocks: make(map[string]*sync.Mutex),
			current:  make(map[string]*models.ContextEntry),
		}
		s.executions[executionID] = exec
	}
	s.mu.Unlock()

	exec.loadOnce.Do(func() {
		exec.loadErr = s.load(ctx, executionID, exec)
	})

	if exec.loadErr != nil {
		s.mu.Lock()
		if s.executions[executionID] == exec {
			delete(s.executions, executionID)
		}
		s.mu.Unlock()

		return nil, exec.loadErr
	}

	return exec, nil
}

func (s *Store) load(ctx context.Context, executionID string, exec *executionContext) error {
	if s.repo == nil {
		return nil
	}

	entries, err := s.repo.ContextEntries(ctx, executionID)
	if err != nil {
		return &FetchError{ExecutionID: executionID, Err: err}
	}

	artifacts, err := s.repo.ContextArtifacts(ctx, executionID)
	if err != nil {
		return &FetchError{ExecutionID: executionID, Err: err}
	}

	for _, entry := range entries {
		exec.history = append(exec.history, entry)
		exec.current[entry.Key] = entry
		exec.sequence = max(exec.sequence, entry.Sequence)
	}

	exec.artifacts = artifacts

	return nil
}

func (e *executionContext) keyLock(key string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}

	return lock
}
