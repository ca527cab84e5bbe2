// Package sessionstore persists session credentials and per-session
// configuration as opaque blobs under hierarchical string keys, backed
// by Postgres in production and an in-memory map in tests.
package sessionstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored blob.
var ErrNotFound = errors.New("sessionstore: key not found")

// Store is a flat blob store with prefix listing. Keys use "/" as the
// segment separator, e.g. "creds/628111111111/1756704000000000000".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error

	// List returns every stored key beginning with prefix, in no
	// particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
