package rest

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/platform/errors"
)

const tokenPath = "/auth-oauth2/oauth/token"

// AuthClient talks to the OAuth token endpoint. The base URL comes from the
// tenant context of each call.
type AuthClient struct {
	http   *resty.Client
	logger Logger
	now    func() time.Time
}

// NewAuthClient creates a token endpoint client.
func NewAuthClient(cfg ClientConfig, logger Logger) *AuthClient {
	cfg.BaseURL = ""
	return &AuthClient{
		http:   newRestyClient(cfg),
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    seconds `json:"expires_in"`
	UUID         string  `json:"UUID"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// seconds accepts both a JSON number and a numeric string.
type seconds int64

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*s = seconds(n)
	return nil
}

// AuthorizeWithRefreshToken exchanges a refresh token for a new credential.
func (c *AuthClient) AuthorizeWithRefreshToken(ctx context.Context, tc model.TenantContext, refreshToken string) (model.Credential, error) {
	return c.token(ctx, "auth.refresh", tc, map[string]string{
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
}

// AuthorizeWithUserPass logs in with the password grant.
func (c *AuthClient) AuthorizeWithUserPass(ctx context.Context, tc model.TenantContext, username, password string) (model.Credential, error) {
	return c.token(ctx, "auth.password", tc, map[string]string{
		"username":   username,
		"password":   password,
		"grant_type": "password",
		"scope":      "read",
	})
}

func (c *AuthClient) token(ctx context.Context, op string, tc model.TenantContext, form map[string]string) (model.Credential, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Basic "+tc.BasicAuth).
		SetHeader("X-Tenant", tc.Tenant).
		SetHeader("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8").
		SetFormData(form).
		Post(strings.TrimRight(tc.BaseURL, "/") + tokenPath)
	if err != nil {
		return model.Credential{}, transportError(op, err)
	}

	status := resp.StatusCode()
	if status >= 400 && status < 500 {
		var body tokenError
		_ = sonic.Unmarshal(resp.Body(), &body)
		rejected := &model.RejectedError{StatusCode: status, Code: body.Error, Description: body.Description}
		c.logger.Warn("token endpoint rejected %s for tenant %s: %v", form["grant_type"], tc.Tenant, rejected)
		return model.Credential{}, rejected
	}
	if resp.IsError() {
		return model.Credential{}, statusError(op, resp)
	}

	var body tokenResponse
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		return model.Credential{}, errors.Wrap(errors.KindTransport, op, "malformed token response", err)
	}
	if body.AccessToken == "" {
		return model.Credential{}, errors.New(errors.KindTransport, op, "token response carries no access_token")
	}

	return model.Credential{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		Subject:      body.UUID,
		ExpiresIn:    time.Duration(body.ExpiresIn) * time.Second,
		IssuedAt:     c.now(),
	}, nil
}
