// Package store defines the shared key-value contract backing the session
// registry and the processing state store. Every operation is a single
// atomic round trip against the backend; callers never compose a
// read-modify-write, so last-write-wins is the universal conflict policy.
package store

import (
	"context"
	"time"
)

// Store is the atomic get/set/TTL contract shared by both stores.
type Store interface {
	// Set writes a whole value under key with the given TTL in one round
	// trip, replacing any prior value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reads the current value for key. The second return is false when
	// the key is absent or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
