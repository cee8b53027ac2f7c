package store

import (
	"time"

	"ordersync-go/internal/domain/auth/model"
)

// expiryFor picks the storage deadline for token: its own exp claim when it
// has a future one, otherwise now+fallback.
func expiryFor(token string, now time.Time, fallback time.Duration) time.Time {
	if exp, ok, err := model.DecodeExpiry(token); err == nil && ok && exp.After(now) {
		return exp
	}
	return now.Add(fallback)
}
