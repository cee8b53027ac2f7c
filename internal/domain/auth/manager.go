package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/domain/auth/store"
	"ordersync-go/internal/platform/observability"
)

type (
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
	// RefreshStorage is where refresh tokens survive process restarts.
	RefreshStorage = store.Storage
)

// AnonymousUsername is the placeholder identity used for anonymous login.
const AnonymousUsername = "anonymous"

// Authorizer performs the remote calls against the token endpoint. A 4xx
// answer must be reported as *model.RejectedError.
type Authorizer interface {
	AuthorizeWithRefreshToken(ctx context.Context, tc model.TenantContext, refreshToken string) (model.Credential, error)
	AuthorizeWithUserPass(ctx context.Context, tc model.TenantContext, username, password string) (model.Credential, error)
}

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Authorizer  Authorizer
	Logger      Logger
	Credentials *CredentialStore

	ExpiryMargin        time.Duration
	NegativeCacheWindow time.Duration
	GateTimeout         time.Duration

	// Listeners are told, per tenant, when a refresh token is found to be
	// permanently invalid.
	Listeners map[string]model.InvalidationListener
	Now       func() time.Time
}

// Manager hands out usable access tokens, refreshing them through the
// token endpoint when the cached one has expired.
type Manager struct {
	authorizer Authorizer
	logger     Logger
	creds      *CredentialStore
	gate       *refreshGate
	listeners  map[string]model.InvalidationListener

	remoteCalls atomic.Int64
}

// NewManager wires a Manager using the supplied options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Authorizer == nil {
		return nil, errors.New("token manager requires an authorizer")
	}
	if opts.Logger == nil {
		return nil, errors.New("token manager requires a logger")
	}
	creds := opts.Credentials
	if creds == nil {
		creds = NewCredentialStore(opts.ExpiryMargin, opts.NegativeCacheWindow, opts.Now)
	}

	listeners := make(map[string]model.InvalidationListener, len(opts.Listeners))
	for tenant, fn := range opts.Listeners {
		if fn != nil {
			listeners[tenant] = fn
		}
	}

	return &Manager{
		authorizer: opts.Authorizer,
		logger:     opts.Logger,
		creds:      creds,
		gate:       newRefreshGate(opts.GateTimeout),
		listeners:  listeners,
	}, nil
}

// Credentials exposes the underlying credential store.
func (m *Manager) Credentials() *CredentialStore {
	return m.creds
}

// RemoteCalls counts refresh and login requests issued so far.
func (m *Manager) RemoteCalls() int64 {
	return m.remoteCalls.Load()
}

// GetCredential returns a usable access token for the tenant. It never
// fails: when every path is exhausted the result is empty and the stored
// refresh token is cleared.
func (m *Manager) GetCredential(ctx context.Context, tc model.TenantContext, refresh RefreshStorage, force bool) model.AccessData {
	if !force {
		if cred, ok := m.creds.Valid(tc.Tenant); ok {
			return cred.Access()
		}
	}
	seen, _ := m.creds.Get(tc.Tenant)

	var (
		cred model.Credential
		ok   bool
	)
	if token := m.loadRefreshToken(ctx, tc.Tenant, refresh); token != "" {
		cred, ok = m.refresh(ctx, tc, refresh, token, seen.AccessToken, force)
	}
	if !ok && tc.AnonymousAuth {
		cred, ok = m.loginAnonymous(ctx, tc, seen.AccessToken, force)
	}

	if !ok {
		m.logger.Warn("no usable credential for tenant %s", tc.Tenant)
		m.clearRefreshToken(ctx, tc.Tenant, refresh)
		return model.AccessData{}
	}

	if refresh != nil && cred.RefreshToken != "" {
		if err := refresh.Set(ctx, tc.Tenant, cred.RefreshToken); err != nil {
			m.logger.Warn("persist refresh token for %s failed: %v", tc.Tenant, err)
		}
	}
	return cred.Access()
}

// Provider binds GetCredential to one tenant.
func (m *Manager) Provider(tc model.TenantContext, refresh RefreshStorage, force bool) model.CredentialProvider {
	return func(ctx context.Context) model.AccessData {
		return m.GetCredential(ctx, tc, refresh, force)
	}
}

// SetCredential seeds the cache with a credential obtained elsewhere, for
// example an interactive login, and persists its refresh token.
func (m *Manager) SetCredential(ctx context.Context, tenant string, cred model.Credential, refresh RefreshStorage) error {
	m.creds.Put(tenant, cred)
	if refresh == nil || cred.RefreshToken == "" {
		return nil
	}
	return refresh.Set(ctx, tenant, cred.RefreshToken)
}

// ClearCredential logs the tenant out locally.
func (m *Manager) ClearCredential(ctx context.Context, tenant string, refresh RefreshStorage) error {
	m.creds.Drop(tenant)
	if refresh == nil {
		return nil
	}
	return refresh.Clear(ctx, tenant)
}

func (m *Manager) loadRefreshToken(ctx context.Context, tenant string, refresh RefreshStorage) string {
	if refresh == nil {
		return ""
	}
	token, err := refresh.Get(ctx, tenant)
	if err != nil {
		m.logger.Warn("load refresh token for %s failed: %v", tenant, err)
		return ""
	}
	if token != "" && refreshTokenExpired(token, m.creds.now()) {
		m.logger.Info("stored refresh token for %s has expired", tenant)
		m.clearRefreshToken(ctx, tenant, refresh)
		return ""
	}
	return token
}

func (m *Manager) clearRefreshToken(ctx context.Context, tenant string, refresh RefreshStorage) {
	if refresh == nil {
		return
	}
	if err := refresh.Clear(ctx, tenant); err != nil {
		m.logger.Warn("clear refresh token for %s failed: %v", tenant, err)
	}
}

// cachedAfterWait reports a credential another caller obtained while this
// one queued at the gate. A forced caller ignores the credential it has
// already seen.
func (m *Manager) cachedAfterWait(tenant, seenAccess string, force bool) (model.Credential, bool) {
	cred, ok := m.creds.Valid(tenant)
	if !ok || (force && cred.AccessToken == seenAccess) {
		return model.Credential{}, false
	}
	return cred, true
}

func (m *Manager) refresh(ctx context.Context, tc model.TenantContext, refresh RefreshStorage, token, seenAccess string, force bool) (model.Credential, bool) {
	release, held := m.gate.enter(ctx)
	defer release()
	if !held {
		m.logger.Debug("refresh gate busy for %s, proceeding without it", tc.Tenant)
	}

	if cred, ok := m.cachedAfterWait(tc.Tenant, seenAccess, force); ok {
		return cred, true
	}
	if m.creds.RecentlyRejected(token) {
		m.logger.Debug("refresh token for %s was rejected recently, skipping", tc.Tenant)
		return model.Credential{}, false
	}

	_, end := observability.StartSpan(ctx, "auth", "refresh_token")
	m.remoteCalls.Add(1)
	cred, err := m.authorizer.AuthorizeWithRefreshToken(ctx, tc, token)
	end(err)

	if err != nil {
		var rejected *model.RejectedError
		if errors.As(err, &rejected) {
			m.creds.Reject(token)
			m.creds.Drop(tc.Tenant)
			if rejected.Permanent() {
				m.invalidate(ctx, tc.Tenant, refresh)
			}
		}
		m.logger.Warn("refresh for %s failed: %v", tc.Tenant, err)
		return model.Credential{}, false
	}

	m.creds.Put(tc.Tenant, cred)
	m.logger.Debug("refreshed credential for %s", tc.Tenant)
	return cred, true
}

func (m *Manager) loginAnonymous(ctx context.Context, tc model.TenantContext, seenAccess string, force bool) (model.Credential, bool) {
	release, held := m.gate.enter(ctx)
	defer release()
	if !held {
		m.logger.Debug("refresh gate busy for %s, logging in without it", tc.Tenant)
	}

	if cred, ok := m.cachedAfterWait(tc.Tenant, seenAccess, force); ok {
		return cred, true
	}

	_, end := observability.StartSpan(ctx, "auth", "anonymous_login")
	m.remoteCalls.Add(1)
	cred, err := m.authorizer.AuthorizeWithUserPass(ctx, tc, AnonymousUsername, "")
	end(err)

	if err != nil {
		m.logger.Warn("anonymous login for %s failed: %v", tc.Tenant, err)
		return model.Credential{}, false
	}

	m.creds.Put(tc.Tenant, cred)
	m.logger.Info("anonymous login for %s succeeded", tc.Tenant)
	return cred, true
}

// invalidate removes a permanently dead refresh token and tells the tenant's
// listener.
func (m *Manager) invalidate(ctx context.Context, tenant string, refresh RefreshStorage) {
	m.clearRefreshToken(ctx, tenant, refresh)
	if fn, ok := m.listeners[tenant]; ok {
		fn(tenant)
	}
}
