package ws

import (
	"sort"
	"sync"
	"time"
)

type hubKey struct {
	tenant string
	venue  string
}

// Status is a point-in-time view of one registered listener.
type Status struct {
	Tenant     string     `json:"tenant"`
	Venue      string     `json:"venue,omitempty"`
	URL        string     `json:"url"`
	State      string     `json:"state"`
	Since      time.Time  `json:"since"`
	Sessions   int64      `json:"sessions"`
	Running    bool       `json:"running"`
	LastActive *time.Time `json:"lastActive,omitempty"`
}

// Hub tracks the event connections of the process and enforces one per
// tenant and venue.
type Hub struct {
	logger    Logger
	mu        sync.Mutex
	listeners map[hubKey]*Listener
}

// NewHub builds an empty hub.
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger:    logger,
		listeners: make(map[hubKey]*Listener),
	}
}

// Register adds l. A listener already registered for the same tenant and
// venue is replaced only once it has been shut down.
func (h *Hub) Register(l *Listener) error {
	if l == nil {
		return nil
	}
	key := hubKey{tenant: l.Tenant(), venue: l.Venue()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.listeners[key]; ok && existing != l && existing.State() != StateShutDown {
		return ErrAlreadyConnected
	}
	h.listeners[key] = l
	return nil
}

// Unregister removes the listener of tenant and venue.
func (h *Hub) Unregister(tenant, venue string) {
	h.mu.Lock()
	delete(h.listeners, hubKey{tenant: tenant, venue: venue})
	h.mu.Unlock()
}

// Get returns the listener of tenant and venue.
func (h *Hub) Get(tenant, venue string) (*Listener, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.listeners[hubKey{tenant: tenant, venue: venue}]
	return l, ok
}

// CloseAll disposes every registered listener.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	listeners := make([]*Listener, 0, len(h.listeners))
	for key, l := range h.listeners {
		listeners = append(listeners, l)
		delete(h.listeners, key)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l.Close()
		if h.logger != nil {
			h.logger.Info("event connection %s/%s closed", l.Tenant(), l.Venue())
		}
	}
}

// Statuses reports every registered listener, ordered by tenant and venue.
func (h *Hub) Statuses() []Status {
	h.mu.Lock()
	out := make([]Status, 0, len(h.listeners))
	for _, l := range h.listeners {
		status := Status{
			Tenant:   l.Tenant(),
			Venue:    l.Venue(),
			URL:      l.URL(),
			State:    l.State().String(),
			Since:    l.StateSince(),
			Sessions: l.Sessions(),
			Running:  l.Running(),
		}
		if at := l.LastActive(); !at.IsZero() {
			status.LastActive = &at
		}
		out = append(out, status)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant < out[j].Tenant
		}
		return out[i].Venue < out[j].Venue
	})
	return out
}

// Counts exposes the number of registered and connected listeners.
func (h *Hub) Counts() (registered int, connected int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		registered++
		if l.State() == StateConnected {
			connected++
		}
	}
	return registered, connected
}
