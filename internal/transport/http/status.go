package httptransport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ordersync-go/internal/domain/eventbus/repository"
	"ordersync-go/internal/domain/orders"
	"ordersync-go/internal/platform/errors"
	"ordersync-go/internal/transport/ws"
)

// OrderSource is the order store as seen by the API.
type OrderSource interface {
	Get(id string) (orders.Record, bool)
	GetAll() map[string]orders.Record
	CreateOrder(ctx context.Context) (orders.CreateResult, error)
}

// ConnectionSource reports the event connections of the process.
type ConnectionSource interface {
	Statuses() []ws.Status
	Counts() (registered int, connected int)
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// StatusHandler serves the read-mostly status API.
type StatusHandler struct {
	tenant      string
	orders      OrderSource
	connections ConnectionSource
	journal     repository.EventRepository
}

// NewStatusHandler builds the handler. journal may be nil when connection
// events are not persisted.
func NewStatusHandler(tenant string, orders OrderSource, connections ConnectionSource, journal repository.EventRepository) *StatusHandler {
	return &StatusHandler{
		tenant:      tenant,
		orders:      orders,
		connections: connections,
		journal:     journal,
	}
}

// RegisterRoutes mounts the status endpoints.
func (h *StatusHandler) RegisterRoutes(router *Router) {
	router.Engine.GET("/healthz", h.Health)

	router.API.GET("/orders", h.ListOrders)
	router.API.GET("/orders/:id", h.GetOrder)
	router.API.POST("/orders", h.CreateOrder)

	router.API.GET("/connection", h.Connections)
	router.API.GET("/connection/events", h.ConnectionEvents)
	router.API.GET("/connection/events/stats", h.ConnectionEventStats)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Orders      int    `json:"orders"`
	Connections int    `json:"connections"`
	Connected   int    `json:"connected"`
}

// Health reports liveness plus a short summary.
func (h *StatusHandler) Health(c *gin.Context) {
	registered, connected := h.connections.Counts()
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Orders:      len(h.orders.GetAll()),
		Connections: registered,
		Connected:   connected,
	})
}

// ListOrders returns the current order map.
func (h *StatusHandler) ListOrders(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, h.orders.GetAll(), "")
}

// GetOrder returns one record.
func (h *StatusHandler) GetOrder(c *gin.Context) {
	rec, ok := h.orders.Get(c.Param("id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "order not found", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, rec, "")
}

// CreateOrder starts a new order on the server and tracks it locally.
func (h *StatusHandler) CreateOrder(c *gin.Context) {
	res, err := h.orders.CreateOrder(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		status := http.StatusBadGateway
		if errors.IsKind(err, errors.KindDomain) {
			status = http.StatusServiceUnavailable
		}
		RespondError(c, status, err.Error(), nil)
		return
	}
	RespondSuccess(c, http.StatusCreated, res, "order created")
}

// Connections returns the state of every registered event connection.
func (h *StatusHandler) Connections(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, h.connections.Statuses(), "")
}

// ConnectionEvents returns the newest journal entries of the tenant.
func (h *StatusHandler) ConnectionEvents(c *gin.Context) {
	if h.journal == nil {
		RespondError(c, http.StatusNotFound, "connection journal disabled", nil)
		return
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxEventLimit)
	}

	tenant := c.DefaultQuery("tenant", h.tenant)
	var (
		events []repository.Event
		err    error
	)
	if topic := c.Query("type"); topic != "" {
		events, err = h.journal.FindByEventType(c.Request.Context(), topic, limit)
	} else {
		events, err = h.journal.Recent(c.Request.Context(), tenant, limit)
	}
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "failed to read connection journal", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, events, "")
}

// ConnectionEventStats counts journal entries per topic.
func (h *StatusHandler) ConnectionEventStats(c *gin.Context) {
	if h.journal == nil {
		RespondError(c, http.StatusNotFound, "connection journal disabled", nil)
		return
	}
	stats, err := h.journal.GetEventStats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "failed to read connection journal", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, stats, "")
}
