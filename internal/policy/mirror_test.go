package policy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := NewRedisMirror(ctx, mr.Addr(), "tierd:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestRedisMirror(t *testing.T) {
	t.Run("publishes under the settings keys", func(t *testing.T) {
		m, mr := newMiniMirror(t)
		chaos := NewChaosState()
		chaos.SetMirror(m)
		sec := NewSecurityPolicy(false, nil)
		sec.SetMirror(m)

		chaos.FailEndpoint("b")
		chaos.FailEndpoint("a")
		chaos.SetLatency(120)
		sec.SetEnforced(true)

		v, err := mr.Get("tierd:" + KeyFailedEndpoints)
		require.NoError(t, err)
		assert.Equal(t, "a,b", v)
		v, err = mr.Get("tierd:" + KeyLatencyMS)
		require.NoError(t, err)
		assert.Equal(t, "120", v)
		v, err = mr.Get("tierd:" + KeyEncryptionEnforced)
		require.NoError(t, err)
		assert.Equal(t, "true", v)
	})

	t.Run("concurrent mutations leave the live state in redis", func(t *testing.T) {
		m, mr := newMiniMirror(t)
		chaos := NewChaosState()
		chaos.SetMirror(m)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%3 == 0 {
					chaos.RecoverEndpoint("s3")
				} else {
					chaos.FailEndpoint("s3")
				}
			}(i)
		}
		wg.Wait()

		v, err := mr.Get("tierd:" + KeyFailedEndpoints)
		require.NoError(t, err)
		assert.Equal(t, strings.Join(chaos.FailedEndpoints(), ","), v)
	})

	t.Run("restore loads persisted state", func(t *testing.T) {
		m, mr := newMiniMirror(t)
		require.NoError(t, mr.Set("tierd:"+KeyFailedEndpoints, "gcs,s3"))
		require.NoError(t, mr.Set("tierd:"+KeyLatencyMS, "75"))
		require.NoError(t, mr.Set("tierd:"+KeyEncryptionEnforced, "true"))

		chaos := NewChaosState()
		sec := NewSecurityPolicy(false, nil)
		require.NoError(t, m.Restore(context.Background(), chaos, sec))

		assert.Equal(t, []string{"gcs", "s3"}, chaos.FailedEndpoints())
		assert.Equal(t, int64(75), chaos.LatencyMS())
		assert.True(t, sec.Enforced())
	})

	t.Run("restore keeps defaults when nothing stored", func(t *testing.T) {
		m, _ := newMiniMirror(t)
		chaos := NewChaosState()
		chaos.SetLatency(5)
		sec := NewSecurityPolicy(true, nil)
		require.NoError(t, m.Restore(context.Background(), chaos, sec))
		assert.Equal(t, int64(5), chaos.LatencyMS())
		assert.True(t, sec.Enforced())
	})

	t.Run("empty address rejected", func(t *testing.T) {
		_, err := NewRedisMirror(context.Background(), "", "", nil)
		assert.Error(t, err)
	})
}
