package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TenantContext carries everything needed to authorise against one tenant.
type TenantContext struct {
	BaseURL       string `json:"base_url"`
	Tenant        string `json:"tenant"`
	BasicAuth     string `json:"-"`
	AnonymousAuth bool   `json:"anonymous_auth"`
}

// Credential is the access/refresh pair returned by the token endpoint.
// It is replaced wholesale, never patched.
type Credential struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	Subject      string        `json:"UUID"`
	ExpiresIn    time.Duration `json:"-"`
	IssuedAt     time.Time     `json:"-"`
}

// Access projects the credential onto what callers consume.
func (c Credential) Access() AccessData {
	return AccessData{Token: c.AccessToken, Subject: c.Subject}
}

// AccessData is the result of a credential request. The zero value means
// no usable credential could be obtained.
type AccessData struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
}

// Empty reports whether no access token is present.
func (a AccessData) Empty() bool {
	return a.Token == ""
}

// CredentialProvider is a credential source pre-bound to a tenant.
type CredentialProvider func(ctx context.Context) AccessData

// InvalidationListener is told when a tenant's refresh token turned out to
// be permanently invalid.
type InvalidationListener func(tenant string)

// RejectedError is a 4xx answer from the token endpoint.
type RejectedError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint rejected request (%d %s): %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint rejected request (%d %s)", e.StatusCode, e.Code)
}

// Permanent reports whether the refresh token itself is dead and retrying
// it can never succeed.
func (e *RejectedError) Permanent() bool {
	if e == nil {
		return false
	}
	return e.Code == "invalid_grant" ||
		strings.Contains(strings.ToLower(e.Description), "invalid refresh token")
}

// Logger provides the minimal logging contract required by the auth domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
