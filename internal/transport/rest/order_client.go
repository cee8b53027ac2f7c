package rest

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/domain/orders"
	"ordersync-go/internal/platform/errors"
)

const (
	newOrderPath    = "/ordering-api/api/order/new"
	orderPath       = "/ordering-api/api/order/{id}"
	orderExtraPath  = "/ordering-api/api/order/{id}/extra"
	venueOrdersPath = "/ordering-api/api/orders/venue/{venue}"
	userOrdersPath  = "/ordering-api/api/orders"
)

// CorrelationHeader carries the creation correlation id.
const CorrelationHeader = "X-Correlation-Id"

// OrderDraft is the body posted when creating an order.
type OrderDraft map[string]any

// OrderClient calls the ordering API on behalf of one tenant.
type OrderClient struct {
	http     *resty.Client
	provider model.CredentialProvider
	logger   Logger
	draft    func() OrderDraft
	newID    func() string
}

// NewOrderClient creates an ordering API client authorised by provider.
// draft builds the body of CreateOrder; nil posts an empty object.
func NewOrderClient(cfg ClientConfig, provider model.CredentialProvider, draft func() OrderDraft, logger Logger) *OrderClient {
	if draft == nil {
		draft = func() OrderDraft { return OrderDraft{} }
	}
	return &OrderClient{
		http:     newRestyClient(cfg),
		provider: provider,
		logger:   logger,
		draft:    draft,
		newID:    uuid.NewString,
	}
}

func (c *OrderClient) accessToken(ctx context.Context, op string) (string, error) {
	access := c.provider(ctx)
	if access.Empty() {
		return "", errors.New(errors.KindCredentialUnavailable, op, "no access token available")
	}
	return access.Token, nil
}

// CreateOrder posts a new order built from the configured draft.
func (c *OrderClient) CreateOrder(ctx context.Context) (orders.CreateResult, error) {
	return c.PostNewOrder(ctx, c.draft())
}

// PostNewOrder posts draft and returns the id assigned by the server along
// with the correlation id sent in the request.
func (c *OrderClient) PostNewOrder(ctx context.Context, draft OrderDraft) (orders.CreateResult, error) {
	const op = "orders.create"
	token, err := c.accessToken(ctx, op)
	if err != nil {
		return orders.CreateResult{}, err
	}

	correlationID := c.newID()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader(CorrelationHeader, correlationID).
		SetBody(draft).
		Post(newOrderPath)
	if err != nil {
		return orders.CreateResult{}, transportError(op, err)
	}
	if resp.IsError() {
		return orders.CreateResult{}, statusError(op, resp)
	}

	var out orders.CreateResult
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return orders.CreateResult{}, errors.Wrap(errors.KindTransport, op, "malformed create response", err)
	}
	if out.CorrelationID == "" {
		out.CorrelationID = correlationID
	}
	return out, nil
}

// FetchOrder loads one order.
func (c *OrderClient) FetchOrder(ctx context.Context, id string) (*orders.Order, error) {
	const op = "orders.fetch"
	token, err := c.accessToken(ctx, op)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", id).
		Get(orderPath)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.IsError() {
		return nil, statusError(op, resp)
	}
	return orders.DecodeOrder(resp.Body())
}

// UpdateExtra sets the "store" extra attribute of an order.
func (c *OrderClient) UpdateExtra(ctx context.Context, id, store string) error {
	const op = "orders.update_extra"
	token, err := c.accessToken(ctx, op)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", id).
		SetBody(map[string]string{"store": store}).
		Post(orderExtraPath)
	if err != nil {
		return transportError(op, err)
	}
	if resp.IsError() {
		return statusError(op, resp)
	}
	return nil
}

// PullVenueOrders returns the open, completed orders of a venue. Failures
// are logged and yield an empty list.
func (c *OrderClient) PullVenueOrders(ctx context.Context, venue, token string) []*orders.Order {
	list, err := c.pull(ctx, "orders.pull_venue", token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("venue", venue).Get(venueOrdersPath)
	})
	if err != nil {
		c.logger.Error("pull orders for venue %s failed: %v", venue, err)
		return []*orders.Order{}
	}
	return completedOnly(list)
}

// PullUserOrders returns the open orders of the token's user, optionally
// only the completed ones. Failures are logged and yield an empty list.
func (c *OrderClient) PullUserOrders(ctx context.Context, token string, onlyCompleted bool) []*orders.Order {
	list, err := c.pull(ctx, "orders.pull_user", token, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(userOrdersPath)
	})
	if err != nil {
		c.logger.Error("pull user orders failed: %v", err)
		return []*orders.Order{}
	}
	if onlyCompleted {
		return completedOnly(list)
	}
	return list
}

func (c *OrderClient) pull(ctx context.Context, op, token string, send func(*resty.Request) (*resty.Response, error)) ([]*orders.Order, error) {
	resp, err := send(c.http.R().SetContext(ctx).SetAuthToken(token))
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.IsError() {
		return nil, statusError(op, resp)
	}
	return orders.DecodeOrders(resp.Body(), func(index int, err error) {
		c.logger.Warn("%s: dropped order %d of the list: %v", op, index, err)
	})
}

func completedOnly(list []*orders.Order) []*orders.Order {
	out := make([]*orders.Order, 0, len(list))
	for _, o := range list {
		if o.Completed {
			out = append(out, o)
		}
	}
	return out
}
