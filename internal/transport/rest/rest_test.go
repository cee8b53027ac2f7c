package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/platform/errors"
	"ordersync-go/internal/platform/logging"
)

func tenantFor(srv *httptest.Server) model.TenantContext {
	return model.TenantContext{BaseURL: srv.URL, Tenant: "tenant1", BasicAuth: "Y2xpZW50OnNlY3JldA=="}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestAuthClient_RefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tokenPath, r.URL.Path)
		assert.Equal(t, "Basic Y2xpZW50OnNlY3JldA==", r.Header.Get("Authorization"))
		assert.Equal(t, "tenant1", r.Header.Get("X-Tenant"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		writeJSON(w, http.StatusOK, `{"access_token":"at-2","refresh_token":"rt-2","expires_in":"3600","UUID":"user-1"}`)
	}))
	defer srv.Close()

	c := NewAuthClient(ClientConfig{}, logging.NewNop())
	cred, err := c.AuthorizeWithRefreshToken(context.Background(), tenantFor(srv), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", cred.AccessToken)
	assert.Equal(t, "rt-2", cred.RefreshToken)
	assert.Equal(t, "user-1", cred.Subject)
	assert.Equal(t, int64(3600), int64(cred.ExpiresIn.Seconds()))
}

func TestAuthClient_PasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "anonymous", r.PostForm.Get("username"))
		assert.Equal(t, "", r.PostForm.Get("password"))
		assert.Equal(t, "read", r.PostForm.Get("scope"))
		writeJSON(w, http.StatusOK, `{"access_token":"at","refresh_token":"rt","expires_in":60,"UUID":"anon"}`)
	}))
	defer srv.Close()

	c := NewAuthClient(ClientConfig{}, logging.NewNop())
	cred, err := c.AuthorizeWithUserPass(context.Background(), tenantFor(srv), "anonymous", "")
	require.NoError(t, err)
	assert.Equal(t, "anon", cred.Subject)
}

func TestAuthClient_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid refresh token: rt-1"}`)
	}))
	defer srv.Close()

	c := NewAuthClient(ClientConfig{}, logging.NewNop())
	_, err := c.AuthorizeWithRefreshToken(context.Background(), tenantFor(srv), "rt-1")
	require.Error(t, err)

	var rejected *model.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.True(t, rejected.Permanent())
}

func TestAuthClient_ServerAndNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	}))
	c := NewAuthClient(ClientConfig{}, logging.NewNop())

	_, err := c.AuthorizeWithRefreshToken(context.Background(), tenantFor(srv), "rt")
	require.Error(t, err)
	var rejected *model.RejectedError
	assert.False(t, errors.IsKind(err, errors.KindCredentialRejected))
	assert.NotErrorAs(t, err, &rejected)

	tc := tenantFor(srv)
	srv.Close()
	_, err = c.AuthorizeWithRefreshToken(context.Background(), tc, "rt")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNetwork))
}

func staticProvider(token string) model.CredentialProvider {
	return func(context.Context) model.AccessData {
		return model.AccessData{Token: token, Subject: "user-1"}
	}
}

func TestOrderClient_CreateOrder(t *testing.T) {
	var sentCorrelation atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, newOrderPath, r.URL.Path)
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		sentCorrelation.Store(r.Header.Get(CorrelationHeader))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body["venue"])
		writeJSON(w, http.StatusOK, `{"id":"order1"}`)
	}))
	defer srv.Close()

	c := NewOrderClient(ClientConfig{BaseURL: srv.URL}, staticProvider("at"),
		func() OrderDraft { return OrderDraft{"venue": "v1"} }, logging.NewNop())
	res, err := c.CreateOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order1", res.ID)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Equal(t, sentCorrelation.Load(), res.CorrelationID)
}

func TestOrderClient_CreateOrderWithoutCredential(t *testing.T) {
	c := NewOrderClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, staticProvider(""), nil, logging.NewNop())
	_, err := c.CreateOrder(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCredentialUnavailable))
}

func TestOrderClient_FetchAndExtra(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ordering-api/api/order/o1":
			writeJSON(w, http.StatusOK, `{"id":"o1","buckets":[{"venue":"v1"}]}`)
		case "/ordering-api/api/order/o1/extra":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "s1", body["store"])
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOrderClient(ClientConfig{BaseURL: srv.URL}, staticProvider("at"), nil, logging.NewNop())
	o, err := c.FetchOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, o.HasVenue("v1"))

	require.NoError(t, c.UpdateExtra(context.Background(), "o1", "s1"))

	_, err = c.FetchOrder(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOrderClient_Pulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pull-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/ordering-api/api/orders/venue/v1":
			writeJSON(w, http.StatusOK, `[{"id":"a","completed":true},{"id":"b"}]`)
		case userOrdersPath:
			writeJSON(w, http.StatusOK, `[{"id":"c","completed":true},{"id":"d","completed":false}]`)
		case "/ordering-api/api/orders/venue/broken":
			writeJSON(w, http.StatusInternalServerError, `{}`)
		case "/ordering-api/api/orders/venue/mixed":
			writeJSON(w, http.StatusOK, `[{"id":"e","completed":true},{"id":"f","completed":true,"total":"9.90"},{"id":"g","completed":true}]`)
		}
	}))
	defer srv.Close()

	c := NewOrderClient(ClientConfig{BaseURL: srv.URL}, staticProvider("unused"), nil, logging.NewNop())
	ctx := context.Background()

	venue := c.PullVenueOrders(ctx, "v1", "pull-token")
	require.Len(t, venue, 1)
	assert.Equal(t, "a", venue[0].ID)

	assert.Len(t, c.PullUserOrders(ctx, "pull-token", false), 2)
	completed := c.PullUserOrders(ctx, "pull-token", true)
	require.Len(t, completed, 1)
	assert.Equal(t, "c", completed[0].ID)

	broken := c.PullVenueOrders(ctx, "broken", "pull-token")
	assert.NotNil(t, broken)
	assert.Empty(t, broken)
	mixed := c.PullVenueOrders(ctx, "mixed", "pull-token")
	require.Len(t, mixed, 2, "undecodable orders are dropped, the rest kept")
	assert.Equal(t, "e", mixed[0].ID)
	assert.Equal(t, "g", mixed[1].ID)
}

func TestUserClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mePath, r.URL.Path)
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"userId":"u1","login":"alice","roles":["USER"]}`)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Alice", body["name"])
		writeJSON(w, http.StatusOK, `true`)
	}))
	defer srv.Close()

	c := NewUserClient(ClientConfig{BaseURL: srv.URL})
	me, err := c.Me(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Login)
	require.NoError(t, c.UpdateMe(context.Background(), "at", map[string]any{"name": "Alice"}))
}

func TestUserClient_DeleteMe(t *testing.T) {
	var deleted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mePath, r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			if r.Header.Get("Authorization") == "Bearer gone" {
				writeJSON(w, http.StatusUnauthorized, `{}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"userId":"u1","login":"alice"}`)
		case http.MethodDelete:
			assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]string{"login": "alice"}, body)
			deleted.Add(1)
			writeJSON(w, http.StatusOK, `true`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c := NewUserClient(ClientConfig{BaseURL: srv.URL})
	ok, err := c.DeleteMe(context.Background(), "at")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), deleted.Load())

	ok, err = c.DeleteMe(context.Background(), "gone")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), deleted.Load(), "no delete without a profile")
}
