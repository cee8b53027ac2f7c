package auth

import (
	"sync"
	"time"

	"ordersync-go/internal/domain/auth/model"
)

// DefaultNegativeCacheWindow is how long a rejected refresh token is
// remembered.
const DefaultNegativeCacheWindow = 30 * time.Second

// CredentialStore holds the latest credential per tenant and a negative
// cache of refresh tokens the token endpoint recently rejected.
type CredentialStore struct {
	mu       sync.RWMutex
	creds    map[string]model.Credential
	rejected map[string]time.Time

	window time.Duration
	margin time.Duration
	now    func() time.Time
}

// NewCredentialStore builds an empty store. Zero durations fall back to the
// defaults; now may be nil.
func NewCredentialStore(margin, window time.Duration, now func() time.Time) *CredentialStore {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	if window <= 0 {
		window = DefaultNegativeCacheWindow
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{
		creds:    make(map[string]model.Credential),
		rejected: make(map[string]time.Time),
		window:   window,
		margin:   margin,
		now:      now,
	}
}

// Get returns the cached credential for tenant regardless of expiry.
func (s *CredentialStore) Get(tenant string) (model.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[tenant]
	return cred, ok
}

// Valid returns the cached credential when its access token has not expired.
func (s *CredentialStore) Valid(tenant string) (model.Credential, bool) {
	cred, ok := s.Get(tenant)
	if !ok || accessTokenExpired(cred.AccessToken, s.margin, s.now()) {
		return model.Credential{}, false
	}
	return cred, true
}

// Put replaces the tenant's credential.
func (s *CredentialStore) Put(tenant string, cred model.Credential) {
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = s.now()
	}
	s.mu.Lock()
	s.creds[tenant] = cred
	s.mu.Unlock()
}

// Drop forgets the tenant's credential.
func (s *CredentialStore) Drop(tenant string) {
	s.mu.Lock()
	delete(s.creds, tenant)
	s.mu.Unlock()
}

// Reject records that refreshToken was refused just now.
func (s *CredentialStore) Reject(refreshToken string) {
	if refreshToken == "" {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, at := range s.rejected {
		if now.Sub(at) >= s.window {
			delete(s.rejected, token)
		}
	}
	s.rejected[refreshToken] = now
}

// RecentlyRejected reports whether refreshToken was refused within the window.
// Reading does not clear the entry.
func (s *CredentialStore) RecentlyRejected(refreshToken string) bool {
	s.mu.RLock()
	at, ok := s.rejected[refreshToken]
	s.mu.RUnlock()
	return ok && s.now().Sub(at) < s.window
}

// PurgeRejected empties the negative cache.
func (s *CredentialStore) PurgeRejected() {
	s.mu.Lock()
	s.rejected = make(map[string]time.Time)
	s.mu.Unlock()
}

// Reset empties both the credential cache and the negative cache.
func (s *CredentialStore) Reset() {
	s.mu.Lock()
	s.creds = make(map[string]model.Credential)
	s.rejected = make(map[string]time.Time)
	s.mu.Unlock()
}
