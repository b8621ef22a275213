// Package blob stores evidence file bytes and hands back an opaque reference.
package blob

import (
	"context"
	"io"
)

// Blob is one file to persist.
type Blob struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Store persists blob bytes. Implementations wrap failures in
// sentinel.ErrUnavailable.
type Store interface {
	Put(ctx context.Context, key string, b Blob) (ref string, err error)
}
