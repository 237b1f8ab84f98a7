// Package llm defines the language model provider contract and its adapters.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned when no provider is configured and
// simulation is off.
var ErrMissingCredentials = errors.New("llm provider credentials are not configured")

// Provider completes a prompt.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one completion call.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	MaxTokens    int
}

// Response is the provider answer. Simulated is true only for responses that
// did not come from a real model.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Simulated    bool
}

// ProviderError is a failed provider call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}

	return fmt.Sprintf("%s request failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt may succeed: network failures,
// rate limits and server errors.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Unavailable is the provider used when neither credentials nor simulation
// are configured. Every call fails with ErrMissingCredentials.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrMissingCredentials
}
