package util

import (
	"context"
	"time"
)

// RetryPolicy describes exponential backoff between attempts:
// Delay(n) = Base * Multiplier^(n-1), capped at Cap.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
}

// DefaultTokenRetry is the credential wait policy: 1s doubling up to 30s.
var DefaultTokenRetry = RetryPolicy{
	MaxAttempts: 10,
	Base:        time.Second,
	Multiplier:  2,
	Cap:         30 * time.Second,
}

// Delay returns the wait that follows the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.Base)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if p.Cap > 0 && delay >= float64(p.Cap) {
			return p.Cap
		}
	}
	if p.Cap > 0 && time.Duration(delay) > p.Cap {
		return p.Cap
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt has used up the budget. A policy
// without MaxAttempts never runs out.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Wait blocks for Delay(attempt) or until ctx is done.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
