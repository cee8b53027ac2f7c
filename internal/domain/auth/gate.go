package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultGateTimeout bounds how long a caller queues for the refresh gate.
const DefaultGateTimeout = 250 * time.Millisecond

// refreshGate admits one remote refresh or login at a time.
//
// The wait is wall-clock capped: a caller that cannot enter within timeout
// proceeds without holding the gate. That keeps a stuck token endpoint from
// building an unbounded queue, at the price of possibly overlapping calls.
// It is a safety valve, not a mutual exclusion guarantee.
type refreshGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRefreshGate(timeout time.Duration) *refreshGate {
	if timeout <= 0 {
		timeout = DefaultGateTimeout
	}
	return &refreshGate{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// enter waits for the gate. held is false when the wait timed out; release
// is always safe to call.
func (g *refreshGate) enter(ctx context.Context) (release func(), held bool) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { g.sem.Release(1) }) }, true
}
