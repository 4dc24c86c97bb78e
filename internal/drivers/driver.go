package drivers

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes an object held by a site
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Driver is the common interface all site drivers must implement.
// A driver is bound to a single site (bucket, directory or namespace).
type Driver interface {
	Name() string
	// Stat returns ErrNotFound when the object does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Put stores data under key. size is the expected length or -1 if unknown.
	Put(ctx context.Context, key string, data io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}
