package models

import "time"

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds how often a failing node is invoked. MaxAttempts counts
// every invocation, including the first one.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts"           validate:"min=1,max=20"`
	DelayMs     int             `json:"delay_ms"               validate:"min=0"`
	Backoff     BackoffStrategy `json:"backoff,omitempty"      validate:"omitempty,oneof=fixed exponential"`
	MaxDelayMs  int             `json:"max_delay_ms,omitempty" validate:"min=0"`
}

// NoRetry is used for nodes without a policy.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Attempts returns the number of invocations allowed, never less than one.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Delay returns the wait before retry number retry (1-based).
func (p *RetryPolicy) Delay(retry int) time.Duration {
	if p == nil || p.DelayMs <= 0 {
		return 0
	}

	delay := time.Duration(p.DelayMs) * time.Millisecond

	if p.Backoff == BackoffExponential {
		for i := 1; i < retry; i++ {
			delay *= 2

			if p.MaxDelayMs > 0 && delay >= time.Duration(p.MaxDelayMs)*time.Millisecond {
				break
			}
		}
	}

	if p.MaxDelayMs > 0 {
		delay = min(delay, time.Duration(p.MaxDelayMs)*time.Millisecond)
	}

	return delay
}
