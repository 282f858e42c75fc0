package shared

import (
	"context"
	"errors"
	"time"
)

// ErrClaimNotHeld is returned when releasing a key the caller no longer owns
var ErrClaimNotHeld = errors.New("idempotency: claim not held")

// IdempotencyStore grants short-lived exclusive claims on keys so that one
// caller at a time performs a non-repeatable side effect
type IdempotencyStore interface {
	// Claim takes key for ttl. ok is false when another caller holds it.
	// The returned token is required to release the claim.
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release drops a claim held with token. Releasing an expired or foreign
	// claim returns ErrClaimNotHeld.
	Release(ctx context.Context, key, token string) error

	// IsClaimed reports whether key is currently held
	IsClaimed(ctx context.Context, key string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}
