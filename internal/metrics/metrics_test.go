// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("records migrations", func(t *testing.T) {
		m := New()

		m.ObserveMigration("succeeded", 2*time.Second, 1)
		m.ObserveMigration("failed", 7*time.Second, 4)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("succeeded")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("failed")))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.retriesTotal))
	})

	t.Run("gauges and counters", func(t *testing.T) {
		m := New()

		m.SetQueueDepth("queued", 5)
		m.SetQueueDepth("queued", 2)
		m.ObserveEvaluation("enqueued")
		m.ObserveEvaluation("enqueued")
		m.PredictionFallback()

		assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("queued")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("enqueued")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.predictionFallback))
	})

	t.Run("separate instances do not collide", func(t *testing.T) {
		a, b := New(), New()
		a.PredictionFallback()
		assert.Equal(t, 0.0, testutil.ToFloat64(b.predictionFallback))
	})

	t.Run("nil receiver is a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ObserveMigration("failed", time.Second, 2)
			m.SetQueueDepth("queued", 1)
			m.ObserveEvaluation("in_sync")
			m.PredictionFallback()
		})
		assert.Nil(t, m.Registry())
	})

	t.Run("handler exposes collectors", func(t *testing.T) {
		m := New()
		m.ObserveEvaluation("infeasible")

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `tierd_placement_evaluations_total{outcome="infeasible"} 1`)
	})
}
