// Package blobstore defines an abstract adapter over a key-prefix-addressable
// object store. The store offers only coarse-grained primitives: listing by
// prefix, whole-blob writes, and whole-blob reads by URL. There is no atomic
// increment, no compare-and-swap, and no locking — every caller must model
// mutation as read-latest, compute, overwrite, and tolerate interleaved writes.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Fetch when the referenced object does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// ObjectInfo describes one stored object returned by List.
type ObjectInfo struct {
	Key        string
	URL        string
	UploadedAt time.Time
}

// Store abstracts the backing object store. Implementations must be safe for
// concurrent use. List returns objects most-recent-first where the backend
// supports ordering; callers treat the first match as authoritative.
type Store interface {
	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Put stores data under key, replacing any previous object at the same
	// key. The store assigns the upload timestamp.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Fetch retrieves the object body addressed by a URL previously
	// returned from List.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases resources held by the adapter.
	Close() error
}
