// internal/intelligence/types.go
package intelligence

import (
	"context"
	"errors"
	"time"
)

// ErrPredictionUnavailable is returned when a predictor cannot produce a
// usable probability
var ErrPredictionUnavailable = errors.New("prediction unavailable")

// AccessEvent is a single read of a file
type AccessEvent struct {
	Key       string
	Timestamp time.Time
}

// AccessSnapshot is the windowed view of a file's activity
type AccessSnapshot struct {
	Access1h     int64
	Access24h    int64
	LastAccess   time.Time
	LastModified time.Time
}

// AccessSource provides the windowed counters for a key
type AccessSource interface {
	Snapshot(ctx context.Context, key string) (AccessSnapshot, error)
}

// Feature names understood by the predictors
const (
	FeatureAccess1h      = "access_1h"
	FeatureAccess24h     = "access_24h"
	FeatureRecency       = "recency_s"
	FeatureHourOfDay     = "hour_of_day"
	FeatureDayOfWeek     = "day_of_week"
	FeaturePartialUpload = "partial_upload"
	FeatureSize          = "size_bytes"
)

// Features is the engineered input to a Predictor. Missing names read as 0.
type Features map[string]float64

// Predictor returns the probability that a file is accessed again soon
type Predictor interface {
	Predict(ctx context.Context, f Features) (float64, error)
}
