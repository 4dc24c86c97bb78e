// internal/intelligence/access_tracker.go
package intelligence

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const numShards = 64

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Aggregator keeps tumbling 1h and 24h access counters per key. Counters are
// non-decreasing inside a window and reset when the window rolls.
type Aggregator struct {
	logger *zap.Logger
	now    func() time.Time
	buffer chan AccessEvent

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*window
}

type window struct {
	hourStart    time.Time
	hourCount    int64
	dayStart     time.Time
	dayCount     int64
	lastAccess   time.Time
	lastModified time.Time
}

var _ AccessSource = (*Aggregator)(nil)

// NewAggregator creates an aggregator with a buffered ingestion channel
func NewAggregator(bufferSize int, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	a := &Aggregator{
		logger: logger,
		now:    time.Now,
		buffer: make(chan AccessEvent, bufferSize),
	}
	for i := range a.shards {
		a.shards[i].m = make(map[string]*window)
	}
	return a
}

// WithClock overrides the clock used for window expiry
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// LogAccess queues an event without blocking the caller
func (a *Aggregator) LogAccess(event AccessEvent) {
	select {
	case a.buffer <- event:
	default:
		a.logger.Warn("access buffer full", zap.String("key", event.Key))
	}
}

// Run drains the ingestion buffer until ctx is done
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.buffer:
			a.Record(ev)
		}
	}
}

// Record applies one event. An event from a window that has already rolled
// is not counted in that window.
func (a *Aggregator) Record(ev AccessEvent) {
	if ev.Key == "" {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}
	hour := ts.Truncate(hourWindow)
	day := ts.Truncate(dayWindow)

	s := a.pick(ev.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.m[ev.Key]
	if w == nil {
		w = &window{}
		s.m[ev.Key] = w
	}

	if hour.After(w.hourStart) {
		w.hourStart = hour
		w.hourCount = 0
	}
	if hour.Equal(w.hourStart) {
		w.hourCount++
	}
	if day.After(w.dayStart) {
		w.dayStart = day
		w.dayCount = 0
	}
	if day.Equal(w.dayStart) {
		w.dayCount++
	}
	if ts.After(w.lastAccess) {
		w.lastAccess = ts
	}
}

// SetModified records the last write time of key
func (a *Aggregator) SetModified(key string, t time.Time) {
	if key == "" {
		return
	}
	s := a.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.m[key]
	if w == nil {
		w = &window{}
		s.m[key] = w
	}
	if t.After(w.lastModified) {
		w.lastModified = t
	}
}

// Snapshot returns the counters as of now. Unknown keys have zero activity.
func (a *Aggregator) Snapshot(_ context.Context, key string) (AccessSnapshot, error) {
	now := a.now()
	s := a.pick(key)

	s.mu.RLock()
	w := s.m[key]
	if w == nil {
		s.mu.RUnlock()
		return AccessSnapshot{}, nil
	}
	snap := AccessSnapshot{
		Access1h:     w.hourCount,
		Access24h:    w.dayCount,
		LastAccess:   w.lastAccess,
		LastModified: w.lastModified,
	}
	hourStart, dayStart := w.hourStart, w.dayStart
	s.mu.RUnlock()

	// windows that have rolled since the last event read as empty
	if now.Truncate(hourWindow).After(hourStart) {
		snap.Access1h = 0
	}
	if now.Truncate(dayWindow).After(dayStart) {
		snap.Access24h = 0
	}
	return snap, nil
}

func (a *Aggregator) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &a.shards[h&(numShards-1)]
}
