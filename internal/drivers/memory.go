package drivers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	modTime time.Time
}

// MemoryDriver keeps objects in process memory. Used for the "memory" site
// kind and in tests.
type MemoryDriver struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	objects map[string]*memObject
	putErrs []error
	puts    int
}

// NewMemoryDriver creates an empty in-memory site
func NewMemoryDriver(name string) *MemoryDriver {
	return &MemoryDriver{
		name:    name,
		now:     time.Now,
		objects: make(map[string]*memObject),
	}
}

// WithClock overrides the clock used for modification times
func (d *MemoryDriver) WithClock(now func() time.Time) *MemoryDriver {
	d.now = now
	return d
}

func (d *MemoryDriver) Name() string {
	return d.name
}

// Seed stores data with an explicit modification time
func (d *MemoryDriver) Seed(key string, data []byte, modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = &memObject{data: append([]byte(nil), data...), modTime: modTime}
}

// FailPuts makes the next len(errs) Put calls return errs in order.
// A nil entry lets that call through.
func (d *MemoryDriver) FailPuts(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.putErrs = append(d.putErrs, errs...)
}

// Puts returns the number of Put calls that reached storage
func (d *MemoryDriver) Puts() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.puts
}

// Bytes returns a copy of the stored object, if present
func (d *MemoryDriver) Bytes(key string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (d *MemoryDriver) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[key]
	if !ok {
		return nil, fmt.Errorf("stat %s on %s: %w", key, d.name, ErrNotFound)
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

func (d *MemoryDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s on %s: %w", key, d.name, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))), nil
}

func (d *MemoryDriver) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	d.mu.Lock()
	if len(d.putErrs) > 0 {
		err := d.putErrs[0]
		d.putErrs = d.putErrs[1:]
		if err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.mu.Unlock()

	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("put %s on %s: %w", key, d.name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.puts++
	d.objects[key] = &memObject{data: buf, modTime: d.now()}
	return nil
}

func (d *MemoryDriver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[key]; !ok {
		return fmt.Errorf("delete %s on %s: %w", key, d.name, ErrNotFound)
	}
	delete(d.objects, key)
	return nil
}
