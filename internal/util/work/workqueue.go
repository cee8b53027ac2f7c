package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrWorkQueueClosed = errors.New("work queue closed")
	ErrWorkQueueFull   = errors.New("work queue full")
)

// WorkHandler processes one item. It always runs on the queue's single
// worker goroutine, so handlers never execute concurrently.
type WorkHandler[T any] func(ctx context.Context, item T) error

// ErrorHandler observes handler failures and recovered panics.
type ErrorHandler[T any] func(item T, err error)

// WorkQueue is a bounded FIFO with exactly one consumer.
type WorkQueue[T any] struct {
	items    chan T
	handler  WorkHandler[T]
	onError  ErrorHandler[T]
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	handled  atomic.Int64
}

// NewWorkQueue creates a queue holding at most size pending items.
func NewWorkQueue[T any](size int, handler WorkHandler[T]) *WorkQueue[T] {
	if size <= 0 {
		size = 1
	}
	return &WorkQueue[T]{
		items:    make(chan T, size),
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// OnError installs the failure observer. Call before Run.
func (wq *WorkQueue[T]) OnError(fn ErrorHandler[T]) *WorkQueue[T] {
	wq.onError = fn
	return wq
}

// Submit enqueues item, blocking while the queue is full.
func (wq *WorkQueue[T]) Submit(ctx context.Context, item T) error {
	select {
	case <-wq.stopChan:
		return ErrWorkQueueClosed
	default:
	}

	select {
	case wq.items <- item:
		return nil
	case <-wq.stopChan:
		return ErrWorkQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues item without blocking.
func (wq *WorkQueue[T]) TrySubmit(item T) error {
	select {
	case <-wq.stopChan:
		return ErrWorkQueueClosed
	default:
	}

	select {
	case wq.items <- item:
		return nil
	default:
		return ErrWorkQueueFull
	}
}

// Run consumes items until ctx is cancelled or Stop is called. Items still
// queued at that point are processed before Run returns.
func (wq *WorkQueue[T]) Run(ctx context.Context) error {
	if !wq.running.CompareAndSwap(false, true) {
		return errors.New("work queue already running")
	}
	defer wq.running.Store(false)

	for {
		select {
		case item := <-wq.items:
			wq.process(ctx, item)
		case <-wq.stopChan:
			wq.drain(ctx)
			return nil
		case <-ctx.Done():
			wq.drain(ctx)
			return ctx.Err()
		}
	}
}

// Stop closes the queue to new submissions and ends Run.
func (wq *WorkQueue[T]) Stop() {
	wq.stopOnce.Do(func() { close(wq.stopChan) })
}

// IsStopped checks if the work queue is stopped.
func (wq *WorkQueue[T]) IsStopped() bool {
	select {
	case <-wq.stopChan:
		return true
	default:
		return false
	}
}

// Pending is the number of queued items.
func (wq *WorkQueue[T]) Pending() int {
	return len(wq.items)
}

// Handled is the number of items processed so far.
func (wq *WorkQueue[T]) Handled() int64 {
	return wq.handled.Load()
}

func (wq *WorkQueue[T]) drain(ctx context.Context) {
	for {
		select {
		case item := <-wq.items:
			wq.process(ctx, item)
		default:
			return
		}
	}
}

func (wq *WorkQueue[T]) process(ctx context.Context, item T) {
	defer wq.handled.Add(1)
	defer func() {
		if r := recover(); r != nil && wq.onError != nil {
			wq.onError(item, fmt.Errorf("work handler panic: %v", r))
		}
	}()

	if err := wq.handler(ctx, item); err != nil && wq.onError != nil {
		wq.onError(item, err)
	}
}
