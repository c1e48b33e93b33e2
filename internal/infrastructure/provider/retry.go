// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package provider holds the helpers shared by every calendar provider variant.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// Default retry configuration
const (
	DefaultCallTimeout       = 20 * time.Second
	DefaultMaxRetries        = 2
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryConfig bounds one provider call: each attempt gets CallTimeout and at
// most MaxRetries extra attempts follow a retryable failure.
type RetryConfig struct {
	CallTimeout       time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the configuration used when none is given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		CallTimeout:       DefaultCallTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// withDefaults fills zero fields. A negative MaxRetries disables retries.
func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.CallTimeout == 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// Backoff calculates the delay before retry number attempt with ±25% jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if time.Duration(backoff) > c.MaxBackoff {
		backoff = float64(c.MaxBackoff)
	}

	// Spread retries of concurrent workers
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	withJitter := time.Duration(backoff + jitter)
	if withJitter < c.InitialBackoff {
		withJitter = c.InitialBackoff
	}
	return withJitter
}

// Do runs fn under a per-attempt deadline and retries transient failures.
// An attempt that hits its own deadline counts as a transient failure; a done
// parent context stops immediately. The last error is returned unchanged.
func Do[T any](ctx context.Context, cfg RetryConfig, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		result, err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if timedOut && !domain.IsRetryable(err) {
			err = domain.NewTransientError(fmt.Sprintf("%s timed out after %s", operation, cfg.CallTimeout), err)
		}
		lastErr = err

		if !domain.IsRetryable(err) || attempt == cfg.MaxRetries {
			break
		}

		backoff := cfg.Backoff(attempt)
		slog.WarnContext(ctx, "provider call failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"backoff", backoff.String(),
			logging.ErrKey, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return zero, lastErr
}

// DoErr is Do for calls without a result.
func DoErr(ctx context.Context, cfg RetryConfig, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
