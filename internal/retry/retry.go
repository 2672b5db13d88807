// Package retry runs connection attempts with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default backoff schedule: 1s, 2s, 4s, 8s, 16s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks attempts across calls to Do.
type State struct {
	CurrentRetries int
	Retries        atomic.Uint32 // Lifetime retry counter
}

// AttemptFunc performs a single attempt.
type AttemptFunc func(ctx context.Context) error

// Do calls fn until it succeeds, the retry budget is exhausted or ctx is done.
//
// The wait before retry n is RetryDelay * 2^(n-1), capped at MaxRetryDelay.
func Do(ctx context.Context, name string, fn AttemptFunc, cfg Config, state *State) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		state.CurrentRetries++
		state.Retries.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := Backoff(state.CurrentRetries, cfg)

		slog.Warn("retry: attempt failed, backing off",
			"target", name,
			"error", err,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Backoff returns the delay before the given retry (1-based).
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
