package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

type PutOptions struct {
	ContentType string
	// Metadata is kept next to the object (S3 user metadata).
	Metadata map[string]string
}

// ObjectStore holds query history objects and result exports.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns every object under prefix, sorted by key. Keys are relative to the store root.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Presigner is implemented by stores that can hand out time-limited download links.
// filename, when set, becomes the attachment name of the download.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration, filename string) (string, error)
}

// BatchDeleter removes many keys in one call. The returned map holds only the keys that failed.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys []string) map[string]error
}
