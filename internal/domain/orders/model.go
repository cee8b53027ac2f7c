package orders

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"

	platformerrors "ordersync-go/internal/platform/errors"
)

// Status is the lifecycle state of an order record.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusValid        Status = "VALID"
	StatusInvalid      Status = "INVALID"
)

// Bucket is the part of an order routed to one venue.
type Bucket struct {
	Venue    string `json:"venue"`
	Name     string `json:"name,omitempty"`
	QueuePos string `json:"queuePos,omitempty"`
}

// Order keeps the fields needed for routing and reconciliation. The full
// payload received from the server is kept in Raw and is what gets
// re-encoded.
type Order struct {
	ID          string   `json:"id"`
	Tenant      string   `json:"tenant,omitempty"`
	Created     string   `json:"created,omitempty"`
	LastChanged string   `json:"lastChanged,omitempty"`
	Status      string   `json:"status,omitempty"`
	OrderType   string   `json:"orderType,omitempty"`
	Total       float64  `json:"total,omitempty"`
	Buckets     []Bucket `json:"buckets,omitempty"`
	Completed   bool     `json:"completed,omitempty"`
	Closed      bool     `json:"closed,omitempty"`

	Raw []byte `json:"-"`
}

// DecodeOrder parses an order payload.
func DecodeOrder(data []byte) (*Order, error) {
	var o Order
	if err := sonic.Unmarshal(data, &o); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEventParse, "orders.decode", "malformed order payload", err)
	}
	o.Raw = bytes.Clone(data)
	return &o, nil
}

// DecodeOrders parses a JSON array of orders. An element that does not
// decode is passed to skip, when given, and left out of the result; only a
// body that is not an array fails.
func DecodeOrders(data []byte, skip func(index int, err error)) ([]*Order, error) {
	var raw []json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEventParse, "orders.decode_list", "malformed order list", err)
	}
	out := make([]*Order, 0, len(raw))
	for i, item := range raw {
		o, err := DecodeOrder(item)
		if err != nil {
			if skip != nil {
				skip(i, err)
			}
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// MarshalJSON writes the original payload when one was received.
func (o *Order) MarshalJSON() ([]byte, error) {
	if len(o.Raw) > 0 {
		return o.Raw, nil
	}
	type plain Order
	return sonic.Marshal((*plain)(o))
}

// HasVenue reports whether any bucket of the order belongs to venue.
func (o *Order) HasVenue(venue string) bool {
	for _, b := range o.Buckets {
		if b.Venue == venue {
			return true
		}
	}
	return false
}

// Record is the local view of one order.
type Record struct {
	Order         *Order `json:"order,omitempty"`
	CorrelationID string `json:"createOrderCorrelationId"`
	Status        Status `json:"recStatus"`
}

// Notification is a message from the notifications channel. Errors about
// order creation arrive here carrying the correlation id of the request.
type Notification struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
	Type          string `json:"type,omitempty"`
	Message       string `json:"message,omitempty"`

	Raw []byte `json:"-"`
}

// DecodeNotification parses a notification payload.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := sonic.Unmarshal(data, &n); err != nil {
		return Notification{}, platformerrors.Wrap(platformerrors.KindEventParse, "orders.decode_notification", "malformed notification", err)
	}
	n.Raw = bytes.Clone(data)
	return n, nil
}

// CreateResult identifies an order creation request.
type CreateResult struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId"`
}

// Creator places a new order on the server.
type Creator interface {
	CreateOrder(ctx context.Context) (CreateResult, error)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context) (CreateResult, error)

func (f CreatorFunc) CreateOrder(ctx context.Context) (CreateResult, error) {
	return f(ctx)
}

// Observer is called after every mutation with the affected record (nil
// when it was deleted) and a copy of the whole map.
type Observer func(rec *Record, all map[string]Record)

// Logger provides the minimal logging contract required by the orders domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
