package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"ordersync-go/internal/domain/orders"
	"ordersync-go/internal/platform/logging"
	"ordersync-go/internal/platform/observability"
	"ordersync-go/internal/transport/ws"
)

// OrderPuller loads the open orders used to reconcile the store after a
// (re)connect. Failures yield an empty list.
type OrderPuller interface {
	PullVenueOrders(ctx context.Context, venue, token string) []*orders.Order
	PullUserOrders(ctx context.Context, token string, onlyCompleted bool) []*orders.Order
}

// SteeringCommand is a remote instruction for the venue device.
type SteeringCommand struct {
	Type  string `json:"type"`
	Venue string `json:"venue,omitempty"`
	Raw   []byte `json:"-"`
}

// OrderSyncConfig selects what the service synchronises.
type OrderSyncConfig struct {
	Tenant               string
	Venue                string
	KDS                  bool
	OnlyCompletedForUser bool
}

// OrderSyncCallbacks are the optional hooks of the embedding application.
type OrderSyncCallbacks struct {
	// OnNotification sees every notification before the store does.
	OnNotification func(orders.Notification)
	OnSteering     func(SteeringCommand)
	OnAuthFailure  func()
	// OnConnection is told when the event connection goes up or down.
	OnConnection func(connected bool)
}

// OrderSync keeps an order store in step with the ordering backend: it
// reconciles from a pull on every connect and applies pushed changes in
// between.
type OrderSync struct {
	cfg       OrderSyncConfig
	store     *orders.Store
	inbox     *orders.Inbox
	puller    OrderPuller
	callbacks OrderSyncCallbacks
	logger    *logging.Logger

	pulls   atomic.Int64
	dropped atomic.Int64
}

// NewOrderSync wires the service. Messages reach the store through inbox.
func NewOrderSync(cfg OrderSyncConfig, store *orders.Store, inbox *orders.Inbox, puller OrderPuller, callbacks OrderSyncCallbacks, logger *logging.Logger) (*OrderSync, error) {
	if store == nil || inbox == nil {
		return nil, errors.New("order sync requires a store and an inbox")
	}
	if puller == nil {
		return nil, errors.New("order sync requires an order puller")
	}
	if cfg.KDS && cfg.Venue == "" {
		return nil, errors.New("kitchen display mode requires a venue")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OrderSync{
		cfg:       cfg,
		store:     store,
		inbox:     inbox,
		puller:    puller,
		callbacks: callbacks,
		logger:    logger,
	}, nil
}

// Store exposes the synchronised order store.
func (s *OrderSync) Store() *orders.Store {
	return s.store
}

// Pulls counts snapshot pulls made so far.
func (s *OrderSync) Pulls() int64 {
	return s.pulls.Load()
}

// Handlers builds the event connection callbacks of the service.
func (s *OrderSync) Handlers() ws.Handlers {
	h := ws.Handlers{
		OnConnected:    s.onConnected,
		OnDisconnect:   s.onDisconnect,
		OnAuthFailure:  s.onAuthFailure,
		OnOrderChange:  s.onOrder,
		OnNotification: s.onNotification,
	}
	if s.cfg.KDS {
		h.OnKDS = s.onOrder
	}
	if s.callbacks.OnSteering != nil {
		h.OnSteering = s.onSteering
	}
	return h
}

// Start registers observer on the store and connects listener, which must
// have been built with Handlers. The returned function disposes the
// connection.
func (s *OrderSync) Start(ctx context.Context, listener *ws.Listener, observer orders.Observer) (func(), error) {
	if listener == nil {
		return nil, errors.New("order sync requires an event listener")
	}
	if observer != nil {
		s.store.SetObserver(observer)
	}
	dispose, err := listener.Connect(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoTag("Orders", "order sync started for %s (kds=%t venue=%s)", s.cfg.Tenant, s.cfg.KDS, s.cfg.Venue)
	return dispose, nil
}

func (s *OrderSync) onConnected(ctx context.Context, token string) {
	if s.callbacks.OnConnection != nil {
		s.callbacks.OnConnection(true)
	}

	ctx, finish := observability.StartSpan(ctx, "ordersync", "pull")
	var snapshot []*orders.Order
	if s.cfg.KDS {
		snapshot = s.puller.PullVenueOrders(ctx, s.cfg.Venue, token)
	} else {
		snapshot = s.puller.PullUserOrders(ctx, token, s.cfg.OnlyCompletedForUser)
	}
	s.pulls.Add(1)
	observability.RecordMetric(ctx, "ordersync.pull.orders", float64(len(snapshot)), map[string]string{
		"tenant": s.cfg.Tenant,
		"kds":    fmt.Sprintf("%t", s.cfg.KDS),
	})

	err := s.inbox.SubmitSnapshot(ctx, snapshot)
	finish(err)
	if err != nil {
		s.logger.WarnTag("Orders", "snapshot of %d orders not applied: %v", len(snapshot), err)
		return
	}
	s.logger.DebugTag("Orders", "queued snapshot of %d orders", len(snapshot))
}

func (s *OrderSync) onDisconnect() {
	s.logger.InfoTag("Orders", "event connection for %s lost", s.cfg.Tenant)
	if s.callbacks.OnConnection != nil {
		s.callbacks.OnConnection(false)
	}
}

func (s *OrderSync) onAuthFailure() {
	s.logger.ErrorTag("Orders", "manual authorisation required for %s", s.cfg.Tenant)
	if s.callbacks.OnAuthFailure != nil {
		s.callbacks.OnAuthFailure()
	}
}

func (s *OrderSync) onOrder(ctx context.Context, body []byte) error {
	order, err := orders.DecodeOrder(body)
	if err != nil {
		s.dropped.Add(1)
		return err
	}
	return s.inbox.SubmitEvent(ctx, order)
}

func (s *OrderSync) onNotification(ctx context.Context, body []byte) error {
	n, err := orders.DecodeNotification(body)
	if err != nil {
		s.dropped.Add(1)
		return err
	}
	if s.callbacks.OnNotification != nil {
		s.callbacks.OnNotification(n)
	}
	return s.inbox.SubmitNotification(ctx, n)
}

func (s *OrderSync) onSteering(_ context.Context, body []byte) error {
	var cmd SteeringCommand
	if err := sonic.Unmarshal(body, &cmd); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("malformed steering command: %w", err)
	}
	cmd.Raw = append([]byte(nil), body...)
	s.callbacks.OnSteering(cmd)
	return nil
}

// Dropped counts messages that could not be decoded.
func (s *OrderSync) Dropped() int64 {
	return s.dropped.Load()
}
