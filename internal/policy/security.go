package policy

import (
	"sync"
	"sync/atomic"
)

// SecurityPolicy holds the encryption enforcement toggle and the
// per-endpoint encrypted attribute derived from the site catalog.
type SecurityPolicy struct {
	pubMu     sync.Mutex
	enforced  atomic.Bool
	mu        sync.RWMutex
	encrypted map[string]bool
	mirror    Mirror
}

// NewSecurityPolicy seeds the per-endpoint flags from the catalog
func NewSecurityPolicy(enforced bool, encrypted map[string]bool) *SecurityPolicy {
	p := &SecurityPolicy{encrypted: make(map[string]bool, len(encrypted))}
	for k, v := range encrypted {
		p.encrypted[k] = v
	}
	p.enforced.Store(enforced)
	return p
}

// SetMirror attaches a mirror that receives toggle changes
func (p *SecurityPolicy) SetMirror(m Mirror) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = m
}

// SetEnforced toggles enforcement and returns the new value
func (p *SecurityPolicy) SetEnforced(on bool) bool {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.enforced.Store(on)

	p.mu.RLock()
	m := p.mirror
	p.mu.RUnlock()
	if m != nil {
		m.PublishEnforced(on)
	}
	return on
}

// Enforced reports whether encryption at the destination is required
func (p *SecurityPolicy) Enforced() bool {
	return p.enforced.Load()
}

// SetEndpointEncrypted overrides the catalog flag for an endpoint
func (p *SecurityPolicy) SetEndpointEncrypted(name string, encrypted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encrypted[name] = encrypted
}

// EndpointEncrypted reports the encrypted flag; unknown endpoints are unencrypted
func (p *SecurityPolicy) EndpointEncrypted(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.encrypted[name]
}

// Allows reports whether a migration to dst passes the policy
func (p *SecurityPolicy) Allows(dst string) bool {
	return !p.Enforced() || p.EndpointEncrypted(dst)
}
