package eventbus

import "time"

// Connection lifecycle topics. Every handler receives a single
// ConnectionEvent argument.
const (
	EventConnectionState       = "connection:state"
	EventConnectionConnected   = "connection:connected"
	EventConnectionClosed      = "connection:closed"
	EventConnectionError       = "connection:error"
	EventConnectionBrokerError = "connection:broker_error"
	EventConnectionAuthFailure = "connection:auth_failure"
	EventMessageDropped        = "connection:message_dropped"
)

// ConnectionTopics lists every connection topic.
var ConnectionTopics = []string{
	EventConnectionState,
	EventConnectionConnected,
	EventConnectionClosed,
	EventConnectionError,
	EventConnectionBrokerError,
	EventConnectionAuthFailure,
	EventMessageDropped,
}

// ConnectionEvent describes one transition or transport-level incident of
// an event connection.
type ConnectionEvent struct {
	Tenant  string    `json:"tenant"`
	Venue   string    `json:"venue,omitempty"`
	State   string    `json:"state,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Err     error     `json:"-"`
	At      time.Time `json:"at"`
}

// Labels flattens the event for trace output.
func (e ConnectionEvent) Labels() map[string]string {
	labels := map[string]string{"tenant": e.Tenant}
	if e.Venue != "" {
		labels["venue"] = e.Venue
	}
	if e.State != "" {
		labels["state"] = e.State
	}
	if e.Channel != "" {
		labels["channel"] = e.Channel
	}
	if e.Reason != "" {
		labels["reason"] = e.Reason
	}
	if e.Err != nil {
		labels["error"] = e.Err.Error()
	}
	return labels
}
