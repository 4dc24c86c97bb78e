package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingMirror struct {
	mu       sync.Mutex
	failures [][]string
	latency  []int64
	enforced []bool
}

func (r *recordingMirror) PublishFailures(e []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, e)
}

func (r *recordingMirror) PublishLatency(ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = append(r.latency, ms)
}

func (r *recordingMirror) PublishEnforced(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enforced = append(r.enforced, on)
}

func TestChaosState(t *testing.T) {
	t.Run("fail and recover are idempotent and sorted", func(t *testing.T) {
		c := NewChaosState()
		assert.Equal(t, []string{"s3-west"}, c.FailEndpoint("s3-west"))
		assert.Equal(t, []string{"gcs", "s3-west"}, c.FailEndpoint("gcs"))
		assert.Equal(t, []string{"gcs", "s3-west"}, c.FailEndpoint("gcs"))
		assert.True(t, c.IsFailed("gcs"))

		assert.Equal(t, []string{"s3-west"}, c.RecoverEndpoint("gcs"))
		assert.Equal(t, []string{"s3-west"}, c.RecoverEndpoint("gcs"))
		assert.False(t, c.IsFailed("gcs"))

		assert.Empty(t, c.ClearFailures())
		assert.Empty(t, c.FailedEndpoints())
	})

	t.Run("set replaces the whole list", func(t *testing.T) {
		c := NewChaosState()
		c.FailEndpoint("a")
		assert.Equal(t, []string{"b", "c"}, c.SetFailedEndpoints([]string{"c", "b", ""}))
		assert.False(t, c.IsFailed("a"))
	})

	t.Run("latency clamps at zero", func(t *testing.T) {
		c := NewChaosState()
		assert.Equal(t, int64(250), c.SetLatency(250))
		assert.Equal(t, 250*time.Millisecond, c.Latency())
		assert.Equal(t, int64(0), c.SetLatency(-5))
		assert.Equal(t, time.Duration(0), c.Latency())
	})

	t.Run("mutations reach the mirror", func(t *testing.T) {
		c := NewChaosState()
		m := &recordingMirror{}
		c.SetMirror(m)
		c.FailEndpoint("x")
		c.SetLatency(10)
		c.ClearFailures()

		assert.Equal(t, [][]string{{"x"}, {}}, m.failures)
		assert.Equal(t, []int64{10}, m.latency)
	})

	t.Run("concurrent readers and writers", func(t *testing.T) {
		c := NewChaosState()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				c.FailEndpoint("e")
				c.SetLatency(1)
			}()
			go func() {
				defer wg.Done()
				_ = c.IsFailed("e")
				_ = c.Latency()
			}()
		}
		wg.Wait()
		assert.True(t, c.IsFailed("e"))
	})
}

func TestSecurityPolicy(t *testing.T) {
	p := NewSecurityPolicy(false, map[string]bool{"vault": true, "cheap": false})

	assert.True(t, p.Allows("cheap"), "not enforced allows anything")

	m := &recordingMirror{}
	p.SetMirror(m)
	p.SetEnforced(true)
	assert.True(t, p.Enforced())
	assert.True(t, p.Allows("vault"))
	assert.False(t, p.Allows("cheap"))
	assert.False(t, p.Allows("unknown"))

	p.SetEndpointEncrypted("cheap", true)
	assert.True(t, p.Allows("cheap"))
	assert.Equal(t, []bool{true}, m.enforced)
}

func TestMirror_PublishOrderMatchesState(t *testing.T) {
	t.Run("chaos", func(t *testing.T) {
		c := NewChaosState()
		m := &recordingMirror{}
		c.SetMirror(m)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := string(rune('a' + i%5))
				if i%2 == 0 {
					c.FailEndpoint(name)
				} else {
					c.RecoverEndpoint(name)
				}
				c.SetLatency(int64(i))
			}(i)
		}
		wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		assert.Len(t, m.failures, 50)
		assert.Equal(t, c.FailedEndpoints(), m.failures[len(m.failures)-1])
		assert.Equal(t, c.LatencyMS(), m.latency[len(m.latency)-1])
	})

	t.Run("security", func(t *testing.T) {
		p := NewSecurityPolicy(false, nil)
		m := &recordingMirror{}
		p.SetMirror(m)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(on bool) {
				defer wg.Done()
				p.SetEnforced(on)
			}(i%2 == 0)
		}
		wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		assert.Len(t, m.enforced, 50)
		assert.Equal(t, p.Enforced(), m.enforced[len(m.enforced)-1])
	})
}
