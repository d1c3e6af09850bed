// Package storage defines the archive Backend that expired vault files are
// copied to before the retention sweep removes them.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for archive storage backends.
// Keys are slash-separated vault-relative paths.
type Backend interface {
	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
