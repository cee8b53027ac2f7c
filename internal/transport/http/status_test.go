package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync-go/internal/domain/eventbus/infrastructure"
	"ordersync-go/internal/domain/eventbus/repository"
	"ordersync-go/internal/domain/orders"
	"ordersync-go/internal/platform/logging"
	"ordersync-go/internal/platform/storage"
	"ordersync-go/internal/transport/ws"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

type fakeConnections struct {
	statuses []ws.Status
}

func (f fakeConnections) Statuses() []ws.Status { return f.statuses }

func (f fakeConnections) Counts() (int, int) {
	connected := 0
	for _, s := range f.statuses {
		if s.State == ws.StateConnected.String() {
			connected++
		}
	}
	return len(f.statuses), connected
}

func newStore(t *testing.T, creator orders.Creator) *orders.Store {
	t.Helper()
	store, err := orders.NewStore(orders.Options{Creator: creator, Logger: logging.NewNop()})
	require.NoError(t, err)
	return store
}

func newJournal(t *testing.T) repository.EventRepository {
	t.Helper()
	db, err := storage.Open(fmt.Sprintf("file:http-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	return infrastructure.NewEventRepository(db)
}

func newRouter(t *testing.T, opts Options, handler *StatusHandler) *Router {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	router, err := Build(opts)
	require.NoError(t, err)
	handler.RegisterRoutes(router)
	return router
}

func do(t *testing.T, router *Router, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && path != "/healthz" {
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestBuild_RequiresLogger(t *testing.T) {
	_, err := Build(Options{})
	assert.Error(t, err)
}

func TestStatus_Health(t *testing.T) {
	store := newStore(t, nil)
	order, err := orders.DecodeOrder([]byte(`{"id":"o1"}`))
	require.NoError(t, err)
	store.OnEvent(order, false, "")

	conns := fakeConnections{statuses: []ws.Status{
		{Tenant: "t1", Venue: "v1", State: "CONNECTED"},
		{Tenant: "t1", Venue: "v2", State: "DISCONNECTED"},
	}}
	router := newRouter(t, Options{}, NewStatusHandler("t1", store, conns, nil))

	rec, _ := do(t, router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{Status: "ok", Orders: 1, Connections: 2, Connected: 1}, health)
}

func TestStatus_Orders(t *testing.T) {
	store := newStore(t, orders.CreatorFunc(func(context.Context) (orders.CreateResult, error) {
		return orders.CreateResult{ID: "new-1", CorrelationID: "corr-1"}, nil
	}))
	order, err := orders.DecodeOrder([]byte(`{"id":"o1","lastChanged":"2024-01-01T10:00:00Z","total":12.5}`))
	require.NoError(t, err)
	store.OnEvent(order, false, "")
	router := newRouter(t, Options{}, NewStatusHandler("t1", store, fakeConnections{}, nil))

	rec, env := do(t, router, http.MethodGet, "/api/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	var all map[string]orders.Record
	require.NoError(t, sonic.Unmarshal(env.Data, &all))
	require.Contains(t, all, "o1")
	assert.Equal(t, orders.StatusValid, all["o1"].Status)
	assert.Equal(t, 12.5, all["o1"].Order.Total)

	rec, env = do(t, router, http.MethodGet, "/api/orders/o1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"lastChanged":"2024-01-01T10:00:00Z"`)

	rec, env = do(t, router, http.MethodGet, "/api/orders/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)

	rec, env = do(t, router, http.MethodPost, "/api/orders")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"new-1","correlationId":"corr-1"}`, string(env.Data))
	created, ok := store.Get("new-1")
	require.True(t, ok)
	assert.Equal(t, orders.StatusInitializing, created.Status)
}

func TestStatus_CreateOrderFailures(t *testing.T) {
	t.Run("no creator", func(t *testing.T) {
		router := newRouter(t, Options{}, NewStatusHandler("t1", newStore(t, nil), fakeConnections{}, nil))
		rec, env := do(t, router, http.MethodPost, "/api/orders")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.False(t, env.Success)
	})

	t.Run("upstream failure", func(t *testing.T) {
		store := newStore(t, orders.CreatorFunc(func(context.Context) (orders.CreateResult, error) {
			return orders.CreateResult{}, errors.New("ordering api down")
		}))
		router := newRouter(t, Options{}, NewStatusHandler("t1", store, fakeConnections{}, nil))
		rec, env := do(t, router, http.MethodPost, "/api/orders")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, env.Message, "ordering api down")
		assert.Zero(t, store.Len())
	})
}

func TestStatus_Connections(t *testing.T) {
	since := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	conns := fakeConnections{statuses: []ws.Status{
		{Tenant: "t1", Venue: "v1", URL: "wss://api/websocket", State: "CONNECTED", Since: since, Sessions: 3, Running: true},
	}}
	router := newRouter(t, Options{}, NewStatusHandler("t1", newStore(t, nil), conns, nil))

	rec, env := do(t, router, http.MethodGet, "/api/connection")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []ws.Status
	require.NoError(t, sonic.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CONNECTED", got[0].State)
	assert.Equal(t, int64(3), got[0].Sessions)
	assert.True(t, got[0].Since.Equal(since))
}

func TestStatus_ConnectionEvents(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		router := newRouter(t, Options{}, NewStatusHandler("t1", newStore(t, nil), fakeConnections{}, nil))
		rec, _ := do(t, router, http.MethodGet, "/api/connection/events")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = do(t, router, http.MethodGet, "/api/connection/events/stats")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	journal := newJournal(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i, ev := range []repository.Event{
		{EventType: "connection:state", Tenant: "t1", State: "CONNECTING"},
		{EventType: "connection:connected", Tenant: "t1", State: "CONNECTED"},
		{EventType: "connection:closed", Tenant: "t1", State: "CONNECTED", Reason: "socket closed"},
		{EventType: "connection:connected", Tenant: "t2", State: "CONNECTED"},
	} {
		ev.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, journal.Store(ctx, ev))
	}
	router := newRouter(t, Options{}, NewStatusHandler("t1", newStore(t, nil), fakeConnections{}, journal))

	rec, env := do(t, router, http.MethodGet, "/api/connection/events?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []repository.Event
	require.NoError(t, sonic.Unmarshal(env.Data, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "connection:closed", events[0].EventType)
	assert.Equal(t, "socket closed", events[0].Reason)

	rec, env = do(t, router, http.MethodGet, "/api/connection/events?tenant=t2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, sonic.Unmarshal(env.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "t2", events[0].Tenant)

	rec, env = do(t, router, http.MethodGet, "/api/connection/events?type=connection:connected")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, sonic.Unmarshal(env.Data, &events))
	assert.Len(t, events, 2)

	rec, _ = do(t, router, http.MethodGet, "/api/connection/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, router, http.MethodGet, "/api/connection/events/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int64
	require.NoError(t, sonic.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(2), stats["connection:connected"])
	assert.Equal(t, int64(1), stats["connection:closed"])
}

func TestRouter_ServesDashboard(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.html"), []byte("<h1>orders</h1>"), 0o644))

	router := newRouter(t, Options{StaticDir: dir}, NewStatusHandler("t1", newStore(t, nil), fakeConnections{}, nil))
	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/orders.html", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>orders</h1>")
}

func TestRouter_CORS(t *testing.T) {
	router := newRouter(t, Options{}, NewStatusHandler("t1", newStore(t, nil), fakeConnections{}, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
