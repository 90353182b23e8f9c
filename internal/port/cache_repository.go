package port

import (
	"context"
	"time"
)

type SequenceRepository interface {
	// NextSequence atomically increments the named counter and returns the new value.
	NextSequence(ctx context.Context, name string) (int64, error)
}

type GuardRepository interface {
	// AcquireGuard sets the key if absent, returns false if someone else holds it
	AcquireGuard(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseGuard removes the key only if it still holds token
	ReleaseGuard(ctx context.Context, key, token string) error
}
