// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrExecutionTerminal indicates the execution already reached success or error.
	ErrExecutionTerminal = errors.New("execution is terminal")

	// ErrInvalidTransition indicates the stored status cannot move to the requested one.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrInvalidIdentifier indicates an identifier that cannot be stored safely.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "CreateExecution", "UpdateExecution")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// BudgetError wraps budget counter errors.
type BudgetError struct {
	Op     string
	UserID string
	Err    error
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s operation failed for budget of user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *BudgetError) Unwrap() error {
	return e.Err
}

func (e *BudgetError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewBudgetError creates a new budget error with context.
func NewBudgetError(op, userID string, err error) *BudgetError {
	return &BudgetError{Op: op, UserID: userID, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionTerminal checks if an error indicates a write to a terminal execution.
func IsExecutionTerminal(err error) bool {
	return errors.Is(err, ErrExecutionTerminal)
}
