package file

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:         id,
		WorkflowID: "wf-1",
		UserID:     "user-1",
		Status:     models.ExecutionStatusPending,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("/tmp/other")
	assert.Equal(t, "/tmp/other", fp.root)
	assert.NoError(t, fp.Close(t.Context()))
}

func TestExecutionLifecycle(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.ExecutionRepository()
	ctx := t.Context()

	record := newRecord("exec-1")
	require.NoError(t, repo.CreateExecution(ctx, record))

	err := repo.CreateExecution(ctx, record)
	require.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	record.Status = models.ExecutionStatusSuccess
	err = repo.UpdateExecution(ctx, record)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	record.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.UpdateExecution(ctx, record))

	record.Status = models.ExecutionStatusError
	record.ErrorMessage = "boom"
	require.NoError(t, repo.UpdateExecution(ctx, record))

	record.Status = models.ExecutionStatusSuccess
	err = repo.UpdateExecution(ctx, record)
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)

	stored, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusError, stored.Status)
	assert.Equal(t, "boom", stored.ErrorMessage)

	errored, err := repo.ExecutionsByStatus(ctx, models.ExecutionStatusError)
	require.NoError(t, err)
	require.Len(t, errored, 1)
	assert.Equal(t, "exec-1", errored[0].ID)

	_, err = repo.GetExecution(ctx, "missing")
	require.True(t, persistence.IsExecutionNotFound(err))
}

func TestNodeStates(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.ExecutionRepository()
	ctx := t.Context()

	err := repo.SaveNodeState(ctx, "exec-2", &models.NodeExecutionState{NodeID: "a"})
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	require.NoError(t, repo.CreateExecution(ctx, newRecord("exec-2")))

	state := &models.NodeExecutionState{NodeID: "b", Status: models.NodeStatusError, RetryCount: 1,
		RetryAttempts: []models.RetryAttempt{{Attempt: 1, Error: "timeout"}}}
	require.NoError(t, repo.SaveNodeState(ctx, "exec-2", state))
	require.NoError(t, repo.SaveNodeState(ctx, "exec-2", &models.NodeExecutionState{NodeID: "a", Status: models.NodeStatusSuccess}))

	state.Status = models.NodeStatusError
	state.ContinuedOnError = true
	require.NoError(t, repo.SaveNodeState(ctx, "exec-2", state))

	states, err := repo.NodeStates(ctx, "exec-2")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].NodeID)
	assert.True(t, states[1].ContinuedOnError)
	assert.Len(t, states[1].RetryAttempts, 1)

	require.NoError(t, repo.DeleteExecution(ctx, "exec-2"))
	_, err = repo.GetExecution(ctx, "exec-2")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestPathTraversalIsRejected(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := t.Context()

	for _, id := range []string{"", "../etc", "a/b", `a\b`} {
		_, err := fp.ExecutionRepository().GetExecution(ctx, id)
		require.ErrorIs(t, err, persistence.ErrInvalidIdentifier, id)
	}

	err := fp.ExecutionRepository().SaveNodeState(ctx, "exec", &models.NodeExecutionState{NodeID: "../x"})
	require.ErrorIs(t, err, persistence.ErrInvalidIdentifier)
}

func TestContextRepository(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.ContextRepository()
	ctx := t.Context()

	for i, value := range []string{"first", "second"} {
		require.NoError(t, repo.AppendContextEntry(ctx, &models.ContextEntry{
			ExecutionID: "exec-3", Key: "k", Value: value, Sequence: int64(i + 1),
		}))
	}

	require.NoError(t, repo.AppendContextArtifact(ctx, &models.ContextArtifact{
		ID: "art-1", ExecutionID: "exec-3", Type: "document", Content: "# Report",
	}))

	entries, err := repo.ContextEntries(ctx, "exec-3")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[1].Value)

	artifacts, err := repo.ContextArtifacts(ctx, "exec-3")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	require.NoError(t, repo.DeleteExecutionContext(ctx, "exec-3"))

	entries, err = repo.ContextEntries(ctx, "exec-3")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBudgetIncrementIsAtomic(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.BudgetRepository()
	ctx := t.Context()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := models.BudgetLimits{DailyLimitUSD: 10, MonthlyLimitUSD: 100}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)

	for range 3 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, ok, err := repo.IncrementSpendIfWithin(ctx, "user-1", 5, now, limits)
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 2, applied)

	status, err := repo.BudgetStatus(ctx, "user-1", now, limits)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, status.DailySpendUSD, 1e-9)
	assert.InDelta(t, 10.0, status.MonthlySpendUSD, 1e-9)

	nextDay, err := repo.BudgetStatus(ctx, "user-1", now.Add(24*time.Hour), limits)
	require.NoError(t, err)
	assert.Zero(t, nextDay.DailySpendUSD)
	assert.InDelta(t, 10.0, nextDay.MonthlySpendUSD, 1e-9)
}

func TestSpendingRecords(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.BudgetRepository()
	ctx := t.Context()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AppendSpendingRecord(ctx, &models.SpendingRecord{UserID: "u", AmountUSD: 1, Applied: true, Timestamp: base}))
	require.NoError(t, repo.AppendSpendingRecord(ctx, &models.SpendingRecord{UserID: "u", AmountUSD: 2, Applied: false, Timestamp: base.Add(time.Hour)}))

	records, err := repo.SpendingRecords(ctx, "u", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Applied)

	status, err := repo.SetBudgetLimits(ctx, "u", models.BudgetLimits{DailyLimitUSD: 3, MonthlyLimitUSD: 30, AlertThresholdPercent: 80}, base)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, status.DailyLimitUSD, 1e-9)
}
