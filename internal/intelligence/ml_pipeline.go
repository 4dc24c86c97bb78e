// internal/intelligence/ml_pipeline.go
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// FeatureExtractor turns a snapshot into predictor features
type FeatureExtractor struct{}

// Extract builds the feature map for key as of now. A file counts as a
// partial upload while it is empty or still carries the .part suffix.
func (fe *FeatureExtractor) Extract(key string, size int64, snap AccessSnapshot, now time.Time) Features {
	return Features{
		FeatureAccess1h:      float64(snap.Access1h),
		FeatureAccess24h:     float64(snap.Access24h),
		FeatureRecency:       Recency(snap, now).Seconds(),
		FeatureHourOfDay:     float64(now.Hour()),
		FeatureDayOfWeek:     float64(now.Weekday()),
		FeaturePartialUpload: boolToFloat(size == 0 || strings.HasSuffix(key, ".part")),
		FeatureSize:          float64(size),
	}
}

// Recency is the time since the last access, falling back to the last
// modification for files that were never read
func Recency(snap AccessSnapshot, now time.Time) time.Duration {
	ref := snap.LastAccess
	if ref.IsZero() {
		ref = snap.LastModified
	}
	if ref.IsZero() {
		return 0
	}
	if d := now.Sub(ref); d > 0 {
		return d
	}
	return 0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// HeuristicModel scores activity and recency without a trained model
type HeuristicModel struct{}

var _ Predictor = (*HeuristicModel)(nil)

func (hm *HeuristicModel) Predict(ctx context.Context, f Features) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	z := -2.0 +
		1.2*math.Log1p(f[FeatureAccess1h]) +
		0.6*math.Log1p(f[FeatureAccess24h]) -
		0.5*f[FeatureRecency]/3600 -
		1.0*f[FeaturePartialUpload]
	return sigmoid(z), nil
}

// LogisticModel serves a logistic regression exported as JSON:
//
//	{"intercept": -1.5, "coefficients": {"access_1h": 0.8, "recency_s": -0.0004}}
type LogisticModel struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

var _ Predictor = (*LogisticModel)(nil)

// LoadLogisticModel reads a model file
func LoadLogisticModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseLogisticModel(data)
}

// ParseLogisticModel decodes a model document
func ParseLogisticModel(data []byte) (*LogisticModel, error) {
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("model has no coefficients")
	}
	return &m, nil
}

func (m *LogisticModel) Predict(ctx context.Context, f Features) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	z := m.Intercept
	for name, w := range m.Coefficients {
		z += w * f[name]
	}
	p := sigmoid(z)
	if math.IsNaN(p) {
		return 0, ErrPredictionUnavailable
	}
	return p, nil
}
