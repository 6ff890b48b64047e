// Package kv provides namespaced key-value buckets with SQLite, bbolt and in-memory backends.
//
// Every bridge instance owns exactly one bucket, named after its bridge ID. Values are opaque
// byte slices; callers own the encoding.
package kv

import "errors"

// ErrClosed is returned by buckets whose backend has been closed.
var ErrClosed = errors.New("kv: backend closed")

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket survives a restart.
	IsPersistent() bool

	// Store saves a value under the given key, replacing any previous value.
	Store(key string, value []byte) error

	// Get retrieves a value by key.
	// Returns nil without error if the key doesn't exist.
	Get(key string) ([]byte, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}
