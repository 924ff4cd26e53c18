// Package store defines the key-value store contract the core runs
// against, with a Redis implementation for production and an in-memory
// implementation for tests and local development. Every operation is
// atomic per call; nothing here composes multi-key transactions.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key (or hash field) does not exist.
var ErrNotFound = errors.New("store: key not found")

// NoExpiry is the TTL reported for keys without a store-level expiry.
const NoExpiry = time.Duration(-1)

// StreamEntry is one record read back from an append-only stream.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// Store is the shared key-value store contract.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value at key. A positive ttl sets a store-level
	// expiry; zero leaves the key persistent.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL reports the remaining time-to-live of key. Keys without an
	// expiry report NoExpiry; missing keys return ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error

	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	// XAdd appends to a stream, trimming it to roughly maxLen entries,
	// and returns the generated entry ID.
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]string) (string, error)
	XRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error)

	Publish(ctx context.Context, channel, message string) error

	// Keys enumerates keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
