package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/conduit/pkg/persistence"
)

var (
	// ErrExecutionTerminal is returned when acting on a finished execution.
	ErrExecutionTerminal = persistence.ErrExecutionTerminal

	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrExecutionActive is returned when purging an execution that still runs.
	ErrExecutionActive = errors.New("execution is still active")

	// ErrNodeTimeout marks an attempt that exceeded its timeout. It is retryable.
	ErrNodeTimeout = errors.New("node timed out")

	// ErrNotApprovalNode is returned when a decision targets a node that does not wait for one.
	ErrNotApprovalNode = errors.New("node is not a human approval node")

	// ErrApprovalNotPending is returned when the approval node already finished
	// or already holds an undelivered decision.
	ErrApprovalNotPending = errors.New("approval is not pending")
)

// ValidationError lists every problem found in a graph. No execution is
// started for an invalid graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid graph: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}

	return e
}

// PersistenceError reports a storage failure while starting or finishing an
// execution.
type PersistenceError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s of execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NodeExecutionError is the final error of a node after its retries.
type NodeExecutionError struct {
	NodeID   string
	Attempts int
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed after %d attempt(s): %v", e.NodeID, e.Attempts, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var validation *ValidationError

	return errors.As(err, &validation)
}

// IsPersistenceError reports whether err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var persistenceErr *PersistenceError

	return errors.As(err, &persistenceErr)
}
