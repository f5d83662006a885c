package ports

import (
	"context"
	"time"
)

// Locker provides mutual exclusion keyed by an aggregate id.
// Acquire blocks until the key is held or ctx ends. The returned release is
// safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RevocationStore keeps revocation markers with token-aligned TTL so revoked
// tokens are rejected before touching the token store.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
