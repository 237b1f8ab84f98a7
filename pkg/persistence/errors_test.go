package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/conduit/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewExecutionError("GetExecution", "exec-123", persistence.ErrExecutionNotFound)
		terminal := persistence.NewExecutionError("UpdateExecution", "exec-456", persistence.ErrExecutionTerminal)

		assert.True(t, persistence.IsExecutionNotFound(notFound))
		assert.False(t, persistence.IsExecutionNotFound(terminal))
		assert.True(t, persistence.IsExecutionTerminal(terminal))
		assert.True(t, errors.Is(terminal, persistence.ErrExecutionTerminal))
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("UpdateExecution", "exec-123", persistence.ErrInvalidTransition)

		assert.Contains(t, err.Error(), "UpdateExecution")
		assert.Contains(t, err.Error(), "exec-123")
		assert.Contains(t, err.Error(), "invalid execution status transition")
	})

	t.Run("budget error unwraps", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := persistence.NewBudgetError("IncrementSpendIfWithin", "user-1", cause)

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "user-1")
	})
}
