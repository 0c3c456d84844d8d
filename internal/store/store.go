// Package store caches immutable registry blobs on the local filesystem.
//
// Objects are addressed by the hex sha256 of their content, which for an
// image config is exactly the image ID. Content is never invalidated: a
// digest always names the same bytes.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: object not found")

// Store handles local content storage.
type Store interface {
	// Get retrieves an object by hash.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Put stores an object and returns its hash.
	Put(ctx context.Context, data []byte) (hash string, err error)

	// Has checks if an object exists.
	Has(ctx context.Context, hash string) (bool, error)

	// Evict removes an object from the memory cache (not from disk).
	Evict(hash string)

	Close() error
}
