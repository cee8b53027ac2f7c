package orders

import (
	"context"
	"errors"

	"ordersync-go/internal/util/work"
)

// ErrInboxClosed is returned when submitting to a stopped inbox.
var ErrInboxClosed = errors.New("order inbox closed")

type messageKind int

const (
	kindEvent messageKind = iota
	kindNotification
	kindSnapshot
)

type message struct {
	kind         messageKind
	order        *Order
	notification Notification
	snapshot     []*Order
}

// Scope selects which orders the inbox keeps.
type Scope struct {
	KDS   bool
	Venue string
}

// Inbox feeds a Store from a single goroutine so that events, notifications
// and snapshots are applied in arrival order.
type Inbox struct {
	store  *Store
	scope  Scope
	queue  *work.WorkQueue[message]
	logger Logger
}

// NewInbox creates an inbox holding at most size pending messages.
func NewInbox(store *Store, scope Scope, size int, logger Logger) *Inbox {
	in := &Inbox{store: store, scope: scope, logger: logger}
	in.queue = work.NewWorkQueue[message](size, in.handle).OnError(func(_ message, err error) {
		in.logger.Error("order inbox handler failed: %v", err)
	})
	return in
}

// Run applies queued messages until ctx is done or Stop is called.
func (in *Inbox) Run(ctx context.Context) error {
	err := in.queue.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes the inbox. Messages already queued are still applied.
func (in *Inbox) Stop() {
	in.queue.Stop()
}

// Pending is the number of messages waiting.
func (in *Inbox) Pending() int {
	return in.queue.Pending()
}

// Handled is the number of messages applied so far.
func (in *Inbox) Handled() int64 {
	return in.queue.Handled()
}

// SubmitEvent queues an order payload.
func (in *Inbox) SubmitEvent(ctx context.Context, order *Order) error {
	return in.submit(ctx, message{kind: kindEvent, order: order})
}

// SubmitNotification queues an error notification.
func (in *Inbox) SubmitNotification(ctx context.Context, n Notification) error {
	return in.submit(ctx, message{kind: kindNotification, notification: n})
}

// SubmitSnapshot queues a full list of open orders.
func (in *Inbox) SubmitSnapshot(ctx context.Context, snapshot []*Order) error {
	return in.submit(ctx, message{kind: kindSnapshot, snapshot: snapshot})
}

func (in *Inbox) submit(ctx context.Context, msg message) error {
	err := in.queue.Submit(ctx, msg)
	if errors.Is(err, work.ErrWorkQueueClosed) {
		return ErrInboxClosed
	}
	return err
}

func (in *Inbox) handle(_ context.Context, msg message) error {
	switch msg.kind {
	case kindEvent:
		in.store.OnEvent(msg.order, in.scope.KDS, in.scope.Venue)
	case kindNotification:
		in.store.OnError(msg.notification)
	case kindSnapshot:
		in.store.ReconcileSnapshot(msg.snapshot, in.scope.KDS, in.scope.Venue)
	}
	return nil
}
