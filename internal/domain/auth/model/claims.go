package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeClaims reads the claims of a JWT without verifying its signature.
// The signing keys belong to the identity provider, so only structure is
// checked here.
func DecodeClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// DecodeExpiry returns the exp claim of a JWT. hasExp is false when the
// token decodes but carries no expiry.
func DecodeExpiry(raw string) (exp time.Time, hasExp bool, err error) {
	claims, err := DecodeClaims(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	date, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, err
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}
