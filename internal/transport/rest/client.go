package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/platform/errors"
)

// Logger re-exports the logging interface used across the domain.
type Logger = model.Logger

// ClientConfig holds what every REST client needs.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

func newRestyClient(cfg ClientConfig) *resty.Client {
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept", "application/json")
	return client
}

// transportError classifies a failed request that produced no usable
// response.
func transportError(op string, err error) error {
	return errors.Wrap(errors.KindNetwork, op, "request failed", err)
}

func statusError(op string, resp *resty.Response) error {
	return errors.New(errors.KindTransport, op,
		"unexpected status "+strconv.Itoa(resp.StatusCode())+": "+truncate(string(resp.Body()), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
