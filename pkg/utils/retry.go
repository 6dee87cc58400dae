// Package utils provides small shared helpers.
package utils

import (
	"context"
	"math"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   10,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Backoff produces exponentially growing delays and tracks consecutive attempts.
// It is not safe for concurrent use.
type Backoff struct {
	cfg     RetryConfig
	attempt int
}

// NewBackoff creates a Backoff from cfg.
func NewBackoff(cfg RetryConfig) *Backoff {
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &Backoff{cfg: cfg}
}

// Next returns the delay before the next attempt and records the attempt.
func (b *Backoff) Next() time.Duration {
	d := CalculateBackoff(b.attempt, b.cfg.InitialDelay, b.cfg.MaxDelay, b.cfg.BackoffFactor)
	b.attempt++
	return d
}

// Attempts returns the number of consecutive attempts since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Exhausted reports whether MaxAttempts consecutive attempts have been made.
// A non-positive MaxAttempts never exhausts.
func (b *Backoff) Exhausted() bool {
	return b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts
}

// Reset clears the attempt counter after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry executes a function with exponential backoff retry.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	b := NewBackoff(cfg)
	for {
		err := fn()
		if err == nil {
			return nil
		}

		delay := b.Next()
		if b.Exhausted() {
			return err
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// CalculateBackoff calculates the backoff duration for a given attempt.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
