package storage

import (
	"context"
	"io"
)

// Uploader is the remote storage backend contract. Implementations return a
// stable remote reference for the stored object.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (remoteRef string, err error)
	Close() error
}
