// Package kv defines the expiring key-value contract used to persist
// connection health records, together with Redis and in-memory
// implementations. The health state store depends only on the Store
// interface; everything above it is backend-agnostic.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or its TTL has
// elapsed. Callers distinguish "no record" from real backend failures
// with errors.Is.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal expiring key-value surface the failover core
// requires from its persistence backend. A ttl <= 0 stores the value
// without expiry.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound when the
	// key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key with the given time-to-live.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Flusher is optionally implemented by stores that support bulk removal
// of all keys under a prefix. Callers must type-assert and degrade
// gracefully when the backend does not provide it.
type Flusher interface {
	FlushPrefix(ctx context.Context, prefix string) error
}
