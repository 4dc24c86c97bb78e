// Package policy holds the process-wide controls the migrator consults
// before touching a site: encryption enforcement and chaos fault injection.
package policy

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ChaosState is the set of endpoints forced to fail plus an injected latency.
// Safe for concurrent use.
type ChaosState struct {
	// pubMu orders mirror publishes the same as the mutations they report
	pubMu     sync.Mutex
	mu        sync.RWMutex
	failed    map[string]struct{}
	latencyMS atomic.Int64
	mirror    Mirror
}

// NewChaosState creates a state with no failures and no latency
func NewChaosState() *ChaosState {
	return &ChaosState{failed: make(map[string]struct{})}
}

// SetMirror attaches a mirror that receives every mutation
func (c *ChaosState) SetMirror(m Mirror) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = m
}

// FailEndpoint marks name as failed and returns the sorted failure list
func (c *ChaosState) FailEndpoint(name string) []string {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.failed[name] = struct{}{}
	list := c.sortedLocked()
	m := c.mirror
	c.mu.Unlock()

	publishFailures(m, list)
	return list
}

// RecoverEndpoint clears a single failure
func (c *ChaosState) RecoverEndpoint(name string) []string {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	delete(c.failed, name)
	list := c.sortedLocked()
	m := c.mirror
	c.mu.Unlock()

	publishFailures(m, list)
	return list
}

// ClearFailures recovers every endpoint
func (c *ChaosState) ClearFailures() []string {
	return c.SetFailedEndpoints(nil)
}

// SetFailedEndpoints replaces the failure set
func (c *ChaosState) SetFailedEndpoints(names []string) []string {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.failed = make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			c.failed[n] = struct{}{}
		}
	}
	list := c.sortedLocked()
	m := c.mirror
	c.mu.Unlock()

	publishFailures(m, list)
	return list
}

// FailedEndpoints returns the sorted failure list
func (c *ChaosState) FailedEndpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

// IsFailed reports whether name is currently forced to fail
func (c *ChaosState) IsFailed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.failed[name]
	return ok
}

// SetLatency sets the injected latency; negative values become zero
func (c *ChaosState) SetLatency(ms int64) int64 {
	if ms < 0 {
		ms = 0
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.latencyMS.Store(ms)

	c.mu.RLock()
	m := c.mirror
	c.mu.RUnlock()
	if m != nil {
		m.PublishLatency(ms)
	}
	return ms
}

// LatencyMS returns the injected latency in milliseconds
func (c *ChaosState) LatencyMS() int64 {
	return c.latencyMS.Load()
}

// Latency returns the injected latency as a duration
func (c *ChaosState) Latency() time.Duration {
	return time.Duration(c.latencyMS.Load()) * time.Millisecond
}

func (c *ChaosState) sortedLocked() []string {
	list := make([]string, 0, len(c.failed))
	for n := range c.failed {
		list = append(list, n)
	}
	sort.Strings(list)
	return list
}

func publishFailures(m Mirror, list []string) {
	if m != nil {
		m.PublishFailures(list)
	}
}
