// Package retry provides a generic bounded-retry executor with exponential
// backoff. Every call the coordinator makes to an external collaborator goes
// through Do, so transient failures never surface until the attempt budget
// is spent.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay between the first and second attempt.
	// Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 30 seconds.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt. Default: 2.
	Multiplier float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
}

// ExhaustedError reports that every attempt failed. It wraps the last error
// encountered so callers can inspect the underlying cause with errors.Is/As.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do invokes op up to cfg.MaxAttempts times, sleeping with exponential
// backoff between attempts. The delay before attempt i+1 is
// InitialBackoff * Multiplier^(i-1), capped at MaxBackoff. The sleep is
// context-aware: cancellation aborts the wait and returns ctx.Err().
//
// On success the operation's result is returned after exactly as many calls
// as it took to succeed. If all attempts fail, the zero value and an
// *ExhaustedError wrapping the last error are returned.
//
// Do never writes to cfg; one Config may be shared across concurrent calls.
// Unset fields fall back to DefaultConfig values.
func Do[T any](ctx context.Context, cfg *Config, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var run Config
	if cfg != nil {
		run = *cfg
	}
	run.ApplyDefaults()

	var lastErr error
	backoff := run.InitialBackoff

	for attempt := 1; attempt <= run.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == run.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * run.Multiplier)
			if next > run.MaxBackoff {
				next = run.MaxBackoff
			}
			backoff = next
		}
	}

	return zero, &ExhaustedError{Op: op, Attempts: run.MaxAttempts, Err: lastErr}
}
