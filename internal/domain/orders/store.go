package orders

import (
	"context"
	"errors"
	"sync"

	platformerrors "ordersync-go/internal/platform/errors"
)

// Options configures a Store.
type Options struct {
	Creator  Creator
	Logger   Logger
	Observer Observer
}

// Store is the authoritative map of open orders. Every mutating call is
// serialized by the store's lock; the observer runs after the lock is
// released and receives copies.
type Store struct {
	mu       sync.Mutex
	records  map[string]*Record
	creator  Creator
	logger   Logger
	observer Observer
}

// NewStore builds an empty store.
func NewStore(opts Options) (*Store, error) {
	if opts.Logger == nil {
		return nil, errors.New("order store requires a logger")
	}
	return &Store{
		records:  make(map[string]*Record),
		creator:  opts.Creator,
		logger:   opts.Logger,
		observer: opts.Observer,
	}, nil
}

// SetObserver replaces the mutation observer.
func (s *Store) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// CreateOrder asks the server for a new order and tracks it as
// INITIALIZING. A record that already exists because a push event won the
// race is left as it is.
func (s *Store) CreateOrder(ctx context.Context) (CreateResult, error) {
	if s.creator == nil {
		return CreateResult{}, platformerrors.New(platformerrors.KindDomain, "orders.create", "no order creator configured")
	}
	res, err := s.creator.CreateOrder(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	if res.ID == "" {
		return res, platformerrors.New(platformerrors.KindDomain, "orders.create", "server returned no order id")
	}

	s.mu.Lock()
	rec, ok := s.records[res.ID]
	if !ok {
		rec = &Record{CorrelationID: res.CorrelationID, Status: StatusInitializing}
		s.records[res.ID] = rec
	}
	s.notifyLocked(res.ID)
	return res, nil
}

// OnEvent applies an order payload received from the server. In KDS mode
// orders without a bucket for venue are ignored.
func (s *Store) OnEvent(order *Order, kds bool, venue string) {
	if order == nil || order.ID == "" {
		return
	}
	if kds && !order.HasVenue(venue) {
		return
	}

	s.mu.Lock()
	if !s.applyLocked(order) {
		s.mu.Unlock()
		return
	}
	s.notifyLocked(order.ID)
}

// applyLocked reports whether the map changed.
func (s *Store) applyLocked(order *Order) bool {
	rec, ok := s.records[order.ID]
	if !ok {
		if order.Closed {
			return false
		}
		s.records[order.ID] = &Record{Order: order, Status: StatusValid}
		return true
	}

	if rec.Status == StatusInitializing {
		rec.Status = StatusValid
	}
	rec.Order = order
	if order.Closed {
		delete(s.records, order.ID)
	}
	return true
}

// OnError applies an error notification. A notification correlated with
// the creation request marks the record INVALID; otherwise only a record
// still INITIALIZING is demoted.
func (s *Store) OnError(n Notification) {
	if n.ID == "" {
		return
	}

	s.mu.Lock()
	rec, ok := s.records[n.ID]
	switch {
	case !ok:
		s.records[n.ID] = &Record{Status: StatusInvalid}
	case rec.CorrelationID != "" && rec.CorrelationID == n.CorrelationID:
		rec.Status = StatusInvalid
	case rec.Status == StatusInitializing:
		rec.Status = StatusInvalid
	default:
		s.mu.Unlock()
		s.logger.Debug("notification for order %s is informational: %v", n.ID,
			platformerrors.New(platformerrors.KindCorrelationMismatch, "orders.on_error", n.Message))
		return
	}
	s.notifyLocked(n.ID)
}

// ReconcileSnapshot merges a full server-side list of open orders. Records
// missing from the snapshot are dropped; new or changed orders are applied
// as events.
func (s *Store) ReconcileSnapshot(snapshot []*Order, kds bool, venue string) {
	present := make(map[string]struct{}, len(snapshot))
	for _, o := range snapshot {
		if o != nil && o.ID != "" {
			present[o.ID] = struct{}{}
		}
	}

	s.mu.Lock()
	pruned := 0
	for id := range s.records {
		if _, ok := present[id]; !ok {
			delete(s.records, id)
			pruned++
		}
	}
	var stale []*Order
	for _, o := range snapshot {
		if o == nil || o.ID == "" {
			continue
		}
		rec, ok := s.records[o.ID]
		if !ok || rec.Order == nil || rec.Order.LastChanged != o.LastChanged {
			stale = append(stale, o)
		}
	}
	if pruned > 0 {
		s.logger.Info("pruned %d orders missing from snapshot", pruned)
		s.notifyLocked("")
	} else {
		s.mu.Unlock()
	}

	for _, o := range stale {
		s.OnEvent(o, kds, venue)
	}
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetAll returns a copy of the map.
func (s *Store) GetAll() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len is the number of tracked orders.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear drops every record without notifying.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec
	}
	return out
}

// notifyLocked releases the lock and then calls the observer. An empty id
// reports a batch change with no single record.
func (s *Store) notifyLocked(id string) {
	observer := s.observer
	if observer == nil {
		s.mu.Unlock()
		return
	}
	var rec *Record
	if id != "" {
		if r, ok := s.records[id]; ok {
			cp := *r
			rec = &cp
		}
	}
	all := s.snapshotLocked()
	s.mu.Unlock()

	observer(rec, all)
}
