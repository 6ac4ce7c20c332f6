// Package blob abstracts the object storage that holds segment blobs.
// Segments are immutable, so every backend only needs whole-object
// put/get semantics.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is the interface for segment object storage (local file,
// in-memory, or OSS).
type Storage interface {
	// Put stores data under the given key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves data by key. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes data by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether the key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List lists all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
