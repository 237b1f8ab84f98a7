package pipelinecontext

import "fmt"

// FetchError reports that stored context could not be read. Callers treat it
// as degraded and proceed without context.
type FetchError struct {
	ExecutionID string
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch context of execution %s: %v", e.ExecutionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError reports that an entry or artifact could not be stored.
type WriteError struct {
	ExecutionID string
	Key         string
	Err         error
}

func (e *WriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("failed to write context of execution %s: %v", e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("failed to write context key %q of execution %s: %v", e.Key, e.ExecutionID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
