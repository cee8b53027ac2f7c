package auth

import (
	"time"

	"ordersync-go/internal/domain/auth/model"
)

// DefaultExpiryMargin is subtracted from an access token's exp claim.
const DefaultExpiryMargin = 10 * time.Second

// accessTokenExpired treats a token that is empty, undecodable or without
// an exp claim as expired.
func accessTokenExpired(raw string, margin time.Duration, now time.Time) bool {
	if raw == "" {
		return true
	}
	exp, ok, err := model.DecodeExpiry(raw)
	if err != nil || !ok {
		return true
	}
	return !now.Before(exp.Add(-margin))
}

// refreshTokenExpired treats an undecodable token as an opaque, provider
// issued value that never expires locally. A decodable token expires at its
// exp claim; one without exp does not expire.
func refreshTokenExpired(raw string, now time.Time) bool {
	exp, ok, err := model.DecodeExpiry(raw)
	if err != nil || !ok {
		return false
	}
	return !now.Before(exp)
}
