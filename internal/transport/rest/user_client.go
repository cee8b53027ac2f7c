package rest

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const mePath = "/auth-api/api/me"

// UserData is the profile of the logged in user.
type UserData struct {
	UserID string         `json:"userId"`
	Login  string         `json:"login,omitempty"`
	Name   string         `json:"name,omitempty"`
	Email  string         `json:"email,omitempty"`
	Phone  string         `json:"phone,omitempty"`
	Roles  []string       `json:"roles,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// UserClient reads and edits the logged in user's profile.
type UserClient struct {
	http *resty.Client
}

// NewUserClient creates a profile client.
func NewUserClient(cfg ClientConfig) *UserClient {
	return &UserClient{http: newRestyClient(cfg)}
}

// Me returns the profile bound to token.
func (c *UserClient) Me(ctx context.Context, token string) (UserData, error) {
	const op = "user.me"
	resp, err := c.http.R().SetContext(ctx).SetAuthToken(token).Get(mePath)
	if err != nil {
		return UserData{}, transportError(op, err)
	}
	if resp.IsError() {
		return UserData{}, statusError(op, resp)
	}
	var out UserData
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return UserData{}, transportError(op, err)
	}
	return out, nil
}

// UpdateMe posts editable profile fields.
func (c *UserClient) UpdateMe(ctx context.Context, token string, data map[string]any) error {
	const op = "user.update"
	resp, err := c.http.R().SetContext(ctx).SetAuthToken(token).SetBody(data).Post(mePath)
	if err != nil {
		return transportError(op, err)
	}
	if resp.IsError() {
		return statusError(op, resp)
	}
	return nil
}

// DeleteMe removes the account bound to token. The server wants the login
// in the request body, so the profile is read first. It reports whether the
// server confirmed the deletion.
func (c *UserClient) DeleteMe(ctx context.Context, token string) (bool, error) {
	const op = "user.delete"
	me, err := c.Me(ctx, token)
	if err != nil {
		return false, err
	}
	resp, err := c.http.R().SetContext(ctx).SetAuthToken(token).
		SetBody(map[string]string{"login": me.Login}).Delete(mePath)
	if err != nil {
		return false, transportError(op, err)
	}
	if resp.IsError() {
		return false, statusError(op, resp)
	}
	var confirmed bool
	if len(resp.Body()) > 0 {
		if err := sonic.Unmarshal(resp.Body(), &confirmed); err != nil {
			return false, transportError(op, err)
		}
	}
	return confirmed, nil
}
