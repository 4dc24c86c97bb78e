// internal/drivers/throttle.go
package drivers

import (
	"context"
	"io"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottledDriver caps the bandwidth used to read from and write to a site
type ThrottledDriver struct {
	backend Driver
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewThrottledDriver creates a driver with bandwidth throttling
func NewThrottledDriver(backend Driver, bytesPerSecond int, logger *zap.Logger) *ThrottledDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Burst equals one second of traffic
	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)

	return &ThrottledDriver{
		backend: backend,
		limiter: limiter,
		logger:  logger,
	}
}

// throttledReader wraps an io.Reader with rate limiting
type throttledReader struct {
	reader  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if burst := tr.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := tr.reader.Read(p)
	if n > 0 {
		if waitErr := tr.limiter.WaitN(tr.ctx, n); waitErr != nil {
			return 0, waitErr
		}
	}
	return n, err
}

type throttledReadCloser struct {
	throttledReader
	closer io.Closer
}

func (t *throttledReadCloser) Close() error {
	return t.closer.Close()
}

func (t *ThrottledDriver) Name() string {
	return t.backend.Name()
}

func (t *ThrottledDriver) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	return t.backend.Stat(ctx, key)
}

func (t *ThrottledDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := t.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &throttledReadCloser{
		throttledReader: throttledReader{reader: rc, limiter: t.limiter, ctx: ctx},
		closer:          rc,
	}, nil
}

func (t *ThrottledDriver) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	throttled := &throttledReader{
		reader:  data,
		limiter: t.limiter,
		ctx:     ctx,
	}
	return t.backend.Put(ctx, key, throttled, size)
}

func (t *ThrottledDriver) Delete(ctx context.Context, key string) error {
	return t.backend.Delete(ctx, key)
}
