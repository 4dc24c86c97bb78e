package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionHistory(t *testing.T) {
	t.Run("keeps newest first and bounds per key", func(t *testing.T) {
		h, err := NewDecisionHistory(10, 3)
		require.NoError(t, err)

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			h.Record(Explanation{Key: "a", Objective: float64(i), DecidedAt: base.Add(time.Duration(i) * time.Minute)})
		}

		latest, ok := h.Latest("a")
		require.True(t, ok)
		assert.Equal(t, 4.0, latest.Objective)

		entries := h.History("a")
		require.Len(t, entries, 3)
		assert.Equal(t, []float64{4, 3, 2}, []float64{entries[0].Objective, entries[1].Objective, entries[2].Objective})
	})

	t.Run("evicts least recently used keys", func(t *testing.T) {
		h, err := NewDecisionHistory(2, 4)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			h.Record(Explanation{Key: fmt.Sprintf("k%d", i)})
		}
		assert.Equal(t, 2, h.Len())
		_, ok := h.Latest("k0")
		assert.False(t, ok)
		_, ok = h.Latest("k2")
		assert.True(t, ok)
	})

	t.Run("unknown key", func(t *testing.T) {
		h, err := NewDecisionHistory(0, 0)
		require.NoError(t, err)
		_, ok := h.Latest("nope")
		assert.False(t, ok)
		assert.Empty(t, h.History("nope"))
	})
}
