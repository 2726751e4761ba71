// Package storage provides the durable key-value store the cache and
// sync queue persist under. Values are opaque byte blobs; each caller
// owns its own key and encodes its own schema.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("storage: store closed")

// KV is the durable key-value port. Implementations must survive
// process restarts (the in-memory one exists for tests only).
type KV interface {
	// Get returns the value for key. The second return is false when
	// the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
