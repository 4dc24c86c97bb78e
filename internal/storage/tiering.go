package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/intelligence"
)

// TierLevel represents storage tier levels
type TierLevel string

const (
	HotTier  TierLevel = "hot"
	WarmTier TierLevel = "warm"
	ColdTier TierLevel = "cold"
)

// Tier thresholds on p_hot. Both bounds are exclusive, so exactly 0.7 and
// exactly 0.3 are warm.
const (
	HotThreshold  = 0.7
	ColdThreshold = 0.3
)

// TierFor classifies a hotness probability
func TierFor(pHot float64) TierLevel {
	switch {
	case pHot > HotThreshold:
		return HotTier
	case pHot < ColdThreshold:
		return ColdTier
	default:
		return WarmTier
	}
}

// ScorerConfig tunes the heat formula
type ScorerConfig struct {
	// HalfLife of the recency decay
	HalfLife time.Duration
	// Saturation is the access rate (per hour) at which activity reaches 1-1/e
	Saturation float64
	// PredictionWeight is the share of p_hot in the blended heat
	PredictionWeight float64
	// Timeout bounds each predictor call
	Timeout time.Duration
}

// DefaultScorerConfig returns the production defaults
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		HalfLife:         time.Hour,
		Saturation:       10,
		PredictionWeight: 0.5,
		Timeout:          250 * time.Millisecond,
	}
}

// Score is the result of scoring one file
type Score struct {
	Heat                  float64               `json:"heat"`
	PHot                  float64               `json:"p_hot"`
	Tier                  TierLevel             `json:"tier"`
	PredictionUnavailable bool                  `json:"prediction_unavailable"`
	Features              intelligence.Features `json:"features"`
}

// HeatScorer blends recency-decayed activity with the predicted hotness
type HeatScorer struct {
	cfg        ScorerConfig
	source     intelligence.AccessSource
	predictor  intelligence.Predictor
	features   *intelligence.FeatureExtractor
	logger     *zap.Logger
	now        func() time.Time
	onFallback func()
}

// NewHeatScorer creates a scorer. A nil source scores from the counters on
// the file record; a nil predictor always takes the decay-only path.
func NewHeatScorer(cfg ScorerConfig, source intelligence.AccessSource, predictor intelligence.Predictor, logger *zap.Logger) *HeatScorer {
	def := DefaultScorerConfig()
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.Saturation <= 0 {
		cfg.Saturation = def.Saturation
	}
	if cfg.PredictionWeight < 0 || cfg.PredictionWeight > 1 {
		cfg.PredictionWeight = def.PredictionWeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeatScorer{
		cfg:       cfg,
		source:    source,
		predictor: predictor,
		features:  &intelligence.FeatureExtractor{},
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the scoring clock
func (s *HeatScorer) WithClock(now func() time.Time) *HeatScorer {
	s.now = now
	return s
}

// OnFallback registers a hook called whenever the predictor is skipped
func (s *HeatScorer) OnFallback(fn func()) *HeatScorer {
	s.onFallback = fn
	return s
}

// Decay is exp(-ln2 * recency / halfLife): 1 for a file touched just now,
// 0.5 after one half life, tending to 0 as the file stays idle
func Decay(recency, halfLife time.Duration) float64 {
	if recency <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * recency.Seconds() / halfLife.Seconds())
}

// Activity maps the hourly access rate onto [0,1)
func Activity(access1h, access24h int64, saturation float64) float64 {
	rate := float64(access1h) + float64(access24h)/24
	if rate <= 0 || saturation <= 0 {
		return 0
	}
	return 1 - math.Exp(-rate/saturation)
}

// Score computes heat and tier for rec
func (s *HeatScorer) Score(ctx context.Context, rec *files.FileRecord) (Score, error) {
	snap, err := s.snapshot(ctx, rec)
	if err != nil {
		return Score{}, err
	}
	now := s.now()
	feats := s.features.Extract(rec.Key, rec.Size, snap, now)

	decay := Decay(intelligence.Recency(snap, now), s.cfg.HalfLife)
	activity := Activity(snap.Access1h, snap.Access24h, s.cfg.Saturation)

	p, err := s.predict(ctx, feats)
	if err != nil {
		s.logger.Debug("prediction unavailable, using decay-only heat",
			zap.String("key", rec.Key), zap.Error(err))
		if s.onFallback != nil {
			s.onFallback()
		}
		heat := clamp01(decay * activity)
		return Score{
			Heat:                  heat,
			PHot:                  heat,
			Tier:                  TierFor(heat),
			PredictionUnavailable: true,
			Features:              feats,
		}, nil
	}

	w := s.cfg.PredictionWeight
	heat := clamp01(decay * (w*p + (1-w)*activity))
	return Score{
		Heat:     heat,
		PHot:     p,
		Tier:     TierFor(p),
		Features: feats,
	}, nil
}

func (s *HeatScorer) snapshot(ctx context.Context, rec *files.FileRecord) (intelligence.AccessSnapshot, error) {
	snap := intelligence.AccessSnapshot{
		Access1h:     rec.Access1h,
		Access24h:    rec.Access24h,
		LastAccess:   rec.LastAccess,
		LastModified: rec.LastModified,
	}
	if s.source == nil {
		return snap, nil
	}
	got, err := s.source.Snapshot(ctx, rec.Key)
	if err != nil {
		return snap, fmt.Errorf("access snapshot %s: %w", rec.Key, err)
	}
	if got.LastModified.IsZero() {
		got.LastModified = rec.LastModified
	}
	return got, nil
}

// predict calls the predictor under the configured timeout. The call runs on
// its own goroutine so a predictor that ignores ctx still cannot stall scoring.
func (s *HeatScorer) predict(ctx context.Context, feats intelligence.Features) (float64, error) {
	if s.predictor == nil {
		return 0, intelligence.ErrPredictionUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	type result struct {
		p   float64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := s.predictor.Predict(ctx, feats)
		ch <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", intelligence.ErrPredictionUnavailable, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return 0, fmt.Errorf("%w: %v", intelligence.ErrPredictionUnavailable, r.err)
		}
		if math.IsNaN(r.p) || r.p < 0 || r.p > 1 {
			return 0, fmt.Errorf("%w: probability %v out of range", intelligence.ErrPredictionUnavailable, r.p)
		}
		return r.p, nil
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
