package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalDriver implements the Driver interface for a local filesystem site
type LocalDriver struct {
	name     string
	basePath string
	logger   *zap.Logger
}

// NewLocalDriver creates a new local filesystem driver rooted at basePath
func NewLocalDriver(name, basePath string, logger *zap.Logger) (*LocalDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("create site directory: %w", err)
	}
	return &LocalDriver{
		name:     name,
		basePath: basePath,
		logger:   logger,
	}, nil
}

// Name returns the site name
func (d *LocalDriver) Name() string {
	return d.name
}

func (d *LocalDriver) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(d.basePath, strings.TrimPrefix(clean, "/")), nil
}

// Stat returns size and modification time of key
func (d *LocalDriver) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	fullPath, err := d.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s on %s: %w", key, d.name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s on %s: %w", key, d.name, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Get opens key for reading
func (d *LocalDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := d.path(key)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("LocalDriver.Get",
		zap.String("site", d.name),
		zap.String("key", key),
		zap.String("fullPath", fullPath))

	f, err := os.Open(fullPath) // #nosec G304 -- path is confined to basePath
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s on %s: %w", key, d.name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s on %s: %w", key, d.name, err)
	}
	return f, nil
}

// Put writes to a temp file in the target directory and renames it into place,
// so readers never observe a partially written object.
func (d *LocalDriver) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	fullPath, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tierd-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Delete removes key from the site
func (d *LocalDriver) Delete(ctx context.Context, key string) error {
	fullPath, err := d.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s on %s: %w", key, d.name, ErrNotFound)
	}
	return err
}
