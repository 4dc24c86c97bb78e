// internal/engine/solver_test.go
package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fastSite  = Site{ID: "fast", Provider: "aws", CostPerGB: 0.023, LatencyMS: 10, Encrypted: true}
	cheapSite = Site{ID: "cheap", Provider: "b2", CostPerGB: 0.005, LatencyMS: 120}
	midSite   = Site{ID: "mid", Provider: "gcp", CostPerGB: 0.012, LatencyMS: 40, Encrypted: true}
)

func TestSolver_Preference(t *testing.T) {
	t.Run("hot file picks the low latency site", func(t *testing.T) {
		d, err := NewSolver().Solve(SolveInput{
			Key: "a", Heat: 1, Candidates: []Site{cheapSite, fastSite}, RF: 1, SLAMS: 100, ScoreWeight: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"fast"}, d.Sites)
		assert.InDelta(t, 0.023-1, d.Objective, 1e-12)
	})

	t.Run("cold file picks the cheap site", func(t *testing.T) {
		d, err := NewSolver().Solve(SolveInput{
			Key: "a", Heat: 0, Candidates: []Site{fastSite, cheapSite}, RF: 1, SLAMS: 100, ScoreWeight: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"cheap"}, d.Sites)
		// 0.005 cost + 0.01 * 20ms over SLA - 1 preference
		assert.InDelta(t, 0.005+0.2-1, d.Objective, 1e-12)
	})

	t.Run("scores cover every candidate", func(t *testing.T) {
		d, err := NewSolver().Solve(SolveInput{
			Key: "a", Heat: 0.5, Candidates: []Site{fastSite, cheapSite, midSite}, RF: 2, SLAMS: 100, ScoreWeight: 1,
		})
		require.NoError(t, err)
		assert.Len(t, d.Scores, 3)
		for _, s := range d.Scores {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
		require.Len(t, d.Sites, 2)
		assert.GreaterOrEqual(t, d.Scores[d.Sites[0]], d.Scores[d.Sites[1]])
		assert.Equal(t, 2, d.RF)
		assert.Equal(t, 100.0, d.SLAMS)
	})

	t.Run("preference moves from cost to latency with heat", func(t *testing.T) {
		assert.Equal(t, 1.0, Preference(1, 1, 0))
		assert.Equal(t, 0.0, Preference(1, 0, 1))
		assert.Equal(t, 1.0, Preference(0, 0, 1))
		assert.Equal(t, 0.5, Preference(0.5, 0, 1))
	})
}

func TestSolver_Infeasible(t *testing.T) {
	tests := []struct {
		name   string
		sites  []Site
		rf     int
		reason string
	}{
		{"zero rf", []Site{fastSite}, 0, ReasonInvalidRF},
		{"too few sites", []Site{fastSite}, 2, ReasonInsufficientSites},
		{"single provider", []Site{
			{ID: "s1", Provider: "aws", CostPerGB: 0.02, LatencyMS: 10},
			{ID: "s2", Provider: "aws", CostPerGB: 0.01, LatencyMS: 30},
		}, 2, ReasonProviderDiversity},
		{"duplicate ids do not count twice", []Site{fastSite, fastSite}, 2, ReasonInsufficientSites},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewSolver().Solve(SolveInput{Key: "k", Heat: 0.5, Candidates: tt.sites, RF: tt.rf, SLAMS: 100, ScoreWeight: 1})
			assert.Nil(t, d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInfeasible))

			var infeasible *InfeasibleError
			require.True(t, errors.As(err, &infeasible))
			assert.Equal(t, tt.reason, infeasible.Reason)
			assert.Equal(t, "k", infeasible.Key)
		})
	}
}

func TestSolver_ProviderDiversity(t *testing.T) {
	sites := []Site{
		{ID: "aws-1", Provider: "aws", CostPerGB: 0.001, LatencyMS: 10},
		{ID: "aws-2", Provider: "aws", CostPerGB: 0.001, LatencyMS: 10},
		{ID: "gcp-1", Provider: "gcp", CostPerGB: 0.5, LatencyMS: 90},
	}
	d, err := NewSolver().Solve(SolveInput{Key: "k", Heat: 0.5, Candidates: sites, RF: 2, SLAMS: 100, ScoreWeight: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aws-1", "gcp-1"}, d.Sites)
}

func TestSolver_TieBreak(t *testing.T) {
	t.Run("prefers the subset holding the cheapest site", func(t *testing.T) {
		// a costs 1.0; z costs 0.5 but pays 0.5 in SLA overshoot
		sites := []Site{
			{ID: "a", Provider: "p1", CostPerGB: 1.0, LatencyMS: 100},
			{ID: "z", Provider: "p2", CostPerGB: 0.5, LatencyMS: 150},
		}
		d, err := NewSolver().Solve(SolveInput{Key: "k", Heat: 0.5, Candidates: sites, RF: 1, SLAMS: 100, ScoreWeight: 0})
		require.NoError(t, err)
		assert.Equal(t, []string{"z"}, d.Sites)
	})

	t.Run("then lexical order", func(t *testing.T) {
		sites := []Site{
			{ID: "b", Provider: "p2", CostPerGB: 1.0, LatencyMS: 10},
			{ID: "z", Provider: "p3", CostPerGB: 0.5, LatencyMS: 10},
			{ID: "a", Provider: "p1", CostPerGB: 1.0, LatencyMS: 10},
			{ID: "w", Provider: "p4", CostPerGB: 1.5, LatencyMS: 10},
		}
		d, err := NewSolver().Solve(SolveInput{Key: "k", Heat: 0.5, Candidates: sites, RF: 2, SLAMS: 100, ScoreWeight: 0})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "z"}, d.Sites)
	})

	t.Run("identical sites resolve by id", func(t *testing.T) {
		sites := []Site{
			{ID: "site-b", Provider: "p2", CostPerGB: 0.01, LatencyMS: 20},
			{ID: "site-a", Provider: "p1", CostPerGB: 0.01, LatencyMS: 20},
		}
		d, err := NewSolver().Solve(SolveInput{Key: "k", Heat: 0.3, Candidates: sites, RF: 1, SLAMS: 100, ScoreWeight: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"site-a"}, d.Sites)
	})
}

func TestPickBest_TieWindowAnchoredOnMinimum(t *testing.T) {
	cands := []candidate{
		{site: Site{ID: "a"}}, {site: Site{ID: "b"}}, {site: Site{ID: "c"}}, {site: Site{ID: "d"}},
	}
	// each subset ties with the previous one but a and c are 1.8e-9 apart
	subsets := []subset{
		{sites: []int{2}, value: 0},
		{sites: []int{1}, value: 0.9e-9},
		{sites: []int{0}, value: 1.8e-9},
	}

	got := pickBest(subsets, 3, cands)

	assert.Equal(t, []int{1}, got.sites)
	assert.InDelta(t, 0.9e-9, got.value, 1e-15)
}

func TestSolver_Deterministic(t *testing.T) {
	in := SolveInput{Key: "k", Heat: 0.42, Candidates: []Site{midSite, fastSite, cheapSite}, RF: 2, SLAMS: 50, ScoreWeight: 0.8}
	first, err := NewSolver().Solve(in)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		reordered := in
		reordered.Candidates = []Site{cheapSite, midSite, fastSite}
		again, err := NewSolver().Solve(reordered)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
