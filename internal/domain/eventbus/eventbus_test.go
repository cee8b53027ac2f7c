package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync-go/internal/domain/eventbus/infrastructure"
	"ordersync-go/internal/platform/storage"
)

type collector struct {
	mu     sync.Mutex
	topics []string
	events []ConnectionEvent
}

func (c *collector) Handle(topic string, event ConnectionEvent) {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func TestSetupEventHandlers_SyncBus(t *testing.T) {
	bus := New()
	c := &collector{}
	require.NoError(t, SetupEventHandlers(bus, c))

	bus.Publish(EventConnectionConnected, ConnectionEvent{Tenant: "t1", State: "CONNECTED"})
	bus.Publish(EventConnectionClosed, ConnectionEvent{Tenant: "t1", Reason: "eof"})

	assert.Equal(t, []string{EventConnectionConnected, EventConnectionClosed}, c.snapshot())
	assert.Equal(t, "eof", c.events[1].Reason)
}

func TestAsyncEventBus_PreservesOrder(t *testing.T) {
	bus := NewAsyncEventBus(64)
	bus.Start()
	defer bus.Stop()

	c := &collector{}
	require.NoError(t, SetupEventHandlers(bus, c))

	for i := 0; i < 20; i++ {
		bus.Publish(EventConnectionState, ConnectionEvent{Tenant: "t1", State: fmt.Sprint(i)})
	}
	bus.WaitAsync()

	require.Len(t, c.events, 20)
	for i, ev := range c.events {
		assert.Equal(t, fmt.Sprint(i), ev.State)
	}
	assert.Zero(t, bus.Dropped())
}

func TestAsyncEventBus_DropsWhenStopped(t *testing.T) {
	bus := NewAsyncEventBus(4)
	bus.Start()
	bus.Stop()

	bus.Publish(EventConnectionState, ConnectionEvent{Tenant: "t1"})
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestAsyncEventBus_SurvivesPanickingSubscriber(t *testing.T) {
	bus := NewAsyncEventBus(4)
	bus.Start()
	defer bus.Stop()

	calls := 0
	require.NoError(t, bus.Subscribe(EventConnectionError, func(ConnectionEvent) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	}))

	bus.Publish(EventConnectionError, ConnectionEvent{})
	bus.Publish(EventConnectionError, ConnectionEvent{})
	bus.WaitAsync()
	assert.Equal(t, 2, calls)
}

func TestConnectionEvent_Labels(t *testing.T) {
	ev := ConnectionEvent{Tenant: "t1", Venue: "v1", Reason: "closed", Err: errors.New("eof")}
	assert.Equal(t, map[string]string{
		"tenant": "t1",
		"venue":  "v1",
		"reason": "closed",
		"error":  "eof",
	}, ev.Labels())
}

func TestJournalHandler_PersistsEvents(t *testing.T) {
	db, err := storage.Open(fmt.Sprintf("file:journal-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	defer storage.Close(db)

	repo := infrastructure.NewEventRepository(db)
	var failures []error
	journal := NewJournalHandler(repo, func(err error) { failures = append(failures, err) })

	bus := New()
	require.NoError(t, SetupEventHandlers(bus, journal))

	base := time.Now().Add(-time.Minute)
	bus.Publish(EventConnectionState, ConnectionEvent{Tenant: "t1", Venue: "v1", State: "CONNECTING", At: base})
	bus.Publish(EventConnectionConnected, ConnectionEvent{Tenant: "t1", Venue: "v1", State: "CONNECTED", At: base.Add(time.Second)})
	bus.Publish(EventConnectionClosed, ConnectionEvent{Tenant: "t2", Reason: "eof", At: base.Add(2 * time.Second)})
	require.Empty(t, failures)

	ctx := context.Background()
	recent, err := repo.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, EventConnectionConnected, recent[0].EventType)
	assert.Equal(t, "v1", recent[0].Labels["venue"])

	stats, err := repo.GetEventStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[EventConnectionClosed])

	require.NoError(t, repo.DeleteOldEvents(ctx, base.Add(1500*time.Millisecond)))
	byType, err := repo.FindByEventType(ctx, EventConnectionState, 0)
	require.NoError(t, err)
	assert.Empty(t, byType)
}

func TestDiscardPublisher(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Publish(EventConnectionState, ConnectionEvent{}) })
}
