package repository

import (
	"context"
	"time"
)

// EventRepository persists connection lifecycle events.
type EventRepository interface {
	// Store appends one event.
	Store(ctx context.Context, event Event) error

	// Recent returns the newest events of a tenant, newest first.
	Recent(ctx context.Context, tenant string, limit int) ([]Event, error)

	// FindByEventType returns the newest events of one topic.
	FindByEventType(ctx context.Context, eventType string, limit int) ([]Event, error)

	// DeleteOldEvents removes events created before beforeTime.
	DeleteOldEvents(ctx context.Context, beforeTime time.Time) error

	// GetEventStats counts events per topic.
	GetEventStats(ctx context.Context) (map[string]int64, error)
}

// Event is one journal entry.
type Event struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	Tenant    string            `json:"tenant"`
	Venue     string            `json:"venue,omitempty"`
	State     string            `json:"state,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
