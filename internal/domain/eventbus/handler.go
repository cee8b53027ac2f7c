package eventbus

import (
	"context"
	"log/slog"
	"time"

	"ordersync-go/internal/domain/eventbus/repository"
	"ordersync-go/internal/platform/observability"
)

// EventHandler consumes connection events.
type EventHandler interface {
	Handle(eventType string, event ConnectionEvent)
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(eventType string, event ConnectionEvent)

func (f HandlerFunc) Handle(eventType string, event ConnectionEvent) {
	f(eventType, event)
}

// Subscriber is the read side of a bus.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

var traceLevels = map[string]slog.Level{
	EventConnectionState:       slog.LevelDebug,
	EventConnectionConnected:   slog.LevelInfo,
	EventConnectionClosed:      slog.LevelInfo,
	EventConnectionError:       slog.LevelWarn,
	EventConnectionBrokerError: slog.LevelWarn,
	EventConnectionAuthFailure: slog.LevelError,
	EventMessageDropped:        slog.LevelWarn,
}

// ObservabilityHandler turns connection events into traces.
type ObservabilityHandler struct{}

// NewObservabilityHandler creates the trace subscriber.
func NewObservabilityHandler() *ObservabilityHandler {
	return &ObservabilityHandler{}
}

func (h *ObservabilityHandler) Handle(eventType string, event ConnectionEvent) {
	level, ok := traceLevels[eventType]
	if !ok {
		level = slog.LevelDebug
	}
	observability.TrackTrace(context.Background(), level, eventType, event.Labels())
}

// JournalHandler writes connection events to a repository.
type JournalHandler struct {
	repo    repository.EventRepository
	timeout time.Duration
	onError func(error)
}

// NewJournalHandler creates the persisting subscriber. onError may be nil.
func NewJournalHandler(repo repository.EventRepository, onError func(error)) *JournalHandler {
	return &JournalHandler{repo: repo, timeout: 5 * time.Second, onError: onError}
}

func (h *JournalHandler) Handle(eventType string, event ConnectionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err := h.repo.Store(ctx, repository.Event{
		EventType: eventType,
		Tenant:    event.Tenant,
		Venue:     event.Venue,
		State:     event.State,
		Reason:    event.Reason,
		Labels:    event.Labels(),
		CreatedAt: event.At,
	})
	if err != nil && h.onError != nil {
		h.onError(err)
	}
}

// SetupEventHandlers subscribes every handler to every connection topic.
func SetupEventHandlers(bus Subscriber, handlers ...EventHandler) error {
	for _, handler := range handlers {
		for _, topic := range ConnectionTopics {
			topic, handler := topic, handler
			if err := bus.Subscribe(topic, func(event ConnectionEvent) {
				handler.Handle(topic, event)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
