// Package blob stores uploaded meal media for asynchronous analysis.
package blob

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

// Store holds media blobs by name. Delete of a missing blob succeeds.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Get(ctx context.Context, name string) ([]byte, string, error)
	Delete(ctx context.Context, name string) error
	// URL returns a link a client can fetch the blob from.
	URL(ctx context.Context, name string) (string, error)
}
