// Package storage persists normalized profile images, either below a local
// directory or in an S3-compatible bucket.
package storage

import (
	"context"
	"io"
)

// ImageStore is implemented by LocalImageStore and S3ImageStore.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
