package storage

import (
	"context"
	"io"
)

// ObjectStorage is the object store surface used for artifact archiving.
type ObjectStorage interface {
	// PutObject uploads sizeBytes from reader. A negative size streams until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// EnsureBucket creates bucket when it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error
}
