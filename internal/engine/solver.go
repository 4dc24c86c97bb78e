// internal/engine/solver.go
package engine

import (
	"math"
	"sort"
)

const (
	// DefaultLambda is the objective penalty per millisecond over the SLA
	DefaultLambda = 0.01
	// tieTolerance is how close two objectives must be to count as equal
	tieTolerance = 1e-9
)

// SolveInput describes one placement problem
type SolveInput struct {
	Key         string
	Heat        float64
	Candidates  []Site
	RF          int
	SLAMS       float64
	ScoreWeight float64
}

// Solver picks the replica set minimizing
//
//	Σ cost + λ·Σ max(0, latency − SLA) − w·Σ preference
//
// subject to exactly RF sites and, for RF > 1, distinct providers. The search
// is exhaustive over RF-subsets, which is exact for catalogs of a few dozen
// sites.
type Solver struct {
	Lambda float64
}

// NewSolver creates a solver with the default SLA penalty
func NewSolver() *Solver {
	return &Solver{Lambda: DefaultLambda}
}

type candidate struct {
	site  Site
	pref  float64
	value float64 // contribution of this site to the objective
}

// Preference rewards low latency as heat rises and low cost as it falls.
// costNorm and latNorm are the site's position in [0,1] across candidates.
func Preference(heat, costNorm, latNorm float64) float64 {
	return heat*(1-latNorm) + (1-heat)*(1-costNorm)
}

// Solve returns the optimal decision or an *InfeasibleError
func (s *Solver) Solve(in SolveInput) (*PlacementDecision, error) {
	if in.RF < 1 {
		return nil, &InfeasibleError{Key: in.Key, Reason: ReasonInvalidRF}
	}

	sites := dedupeSites(in.Candidates)
	if len(sites) < in.RF {
		return nil, &InfeasibleError{Key: in.Key, Reason: ReasonInsufficientSites}
	}
	if in.RF > 1 && distinctProviders(sites) < in.RF {
		return nil, &InfeasibleError{Key: in.Key, Reason: ReasonProviderDiversity}
	}

	heat := math.Max(0, math.Min(1, in.Heat))
	cands := s.score(sites, heat, in.SLAMS, in.ScoreWeight)
	cheapest := cheapestIndex(cands)

	var (
		subsets []subset
		chosen  = make([]int, 0, in.RF)
		used    = make(map[Provider]bool, in.RF)
	)

	var walk func(start int, value float64)
	walk = func(start int, value float64) {
		if len(chosen) == in.RF {
			subsets = append(subsets, subset{sites: append([]int(nil), chosen...), value: value})
			return
		}
		// not enough candidates left to fill the subset
		for i := start; i <= len(cands)-(in.RF-len(chosen)); i++ {
			p := cands[i].site.Provider
			if in.RF > 1 && used[p] {
				continue
			}
			used[p] = true
			chosen = append(chosen, i)
			walk(i+1, value+cands[i].value)
			chosen = chosen[:len(chosen)-1]
			used[p] = false
		}
	}
	walk(0, 0)

	if len(subsets) == 0 {
		return nil, &InfeasibleError{Key: in.Key, Reason: ReasonProviderDiversity}
	}
	winner := pickBest(subsets, cheapest, cands)
	best, bestValue := winner.sites, winner.value

	scores := make(map[string]float64, len(cands))
	for _, c := range cands {
		scores[c.site.ID] = c.pref
	}

	order := append([]int(nil), best...)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := cands[order[i]], cands[order[j]]
		if a.pref != b.pref {
			return a.pref > b.pref
		}
		return a.site.ID < b.site.ID
	})
	ids := make([]string, len(order))
	for i, idx := range order {
		ids[i] = cands[idx].site.ID
	}

	return &PlacementDecision{
		Key:       in.Key,
		Objective: bestValue,
		Sites:     ids,
		Scores:    scores,
		SLAMS:     in.SLAMS,
		RF:        in.RF,
	}, nil
}

func (s *Solver) score(sites []Site, heat, sla, weight float64) []candidate {
	minCost, maxCost := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	for _, site := range sites {
		minCost = math.Min(minCost, site.CostPerGB)
		maxCost = math.Max(maxCost, site.CostPerGB)
		minLat = math.Min(minLat, site.LatencyMS)
		maxLat = math.Max(maxLat, site.LatencyMS)
	}

	out := make([]candidate, len(sites))
	for i, site := range sites {
		pref := Preference(heat,
			normalize(site.CostPerGB, minCost, maxCost),
			normalize(site.LatencyMS, minLat, maxLat))
		overshoot := math.Max(0, site.LatencyMS-sla)
		out[i] = candidate{
			site:  site,
			pref:  pref,
			value: site.CostPerGB + s.Lambda*overshoot - weight*pref,
		}
	}
	return out
}

func normalize(v, lo, hi float64) float64 {
	if hi-lo <= 0 {
		return 0
	}
	return (v - lo) / (hi - lo)
}

// dedupeSites orders candidates by id and drops repeated ids
func dedupeSites(in []Site) []Site {
	out := append([]Site(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	n := 0
	for i, s := range out {
		if i > 0 && s.ID == out[n-1].ID {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

func distinctProviders(sites []Site) int {
	seen := make(map[Provider]struct{}, len(sites))
	for _, s := range sites {
		seen[s.Provider] = struct{}{}
	}
	return len(seen)
}

// cheapestIndex returns the lowest-cost candidate, ties by id (candidates
// are already id ordered)
func cheapestIndex(cands []candidate) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].site.CostPerGB < cands[best].site.CostPerGB {
			best = i
		}
	}
	return best
}

type subset struct {
	sites []int
	value float64
}

// pickBest returns the subset with the minimum objective. Subsets within
// tieTolerance of that minimum are ranked by preferOnTie. The window is
// anchored on the true minimum so it cannot drift across a chain of
// near-equal subsets.
func pickBest(subsets []subset, cheapest int, cands []candidate) subset {
	minValue := math.Inf(1)
	for _, sub := range subsets {
		minValue = math.Min(minValue, sub.value)
	}

	var best *subset
	for i := range subsets {
		sub := &subsets[i]
		if sub.value > minValue+tieTolerance {
			continue
		}
		if best == nil || preferOnTie(sub.sites, best.sites, cheapest, cands) {
			best = sub
		}
	}
	return *best
}

// preferOnTie reports whether subset a beats b when their objectives tie:
// first the subset holding the cheapest site, then lexical id order.
// Both subsets are ascending candidate indexes, which is ascending id order.
func preferOnTie(a, b []int, cheapest int, cands []candidate) bool {
	aHas, bHas := contains(a, cheapest), contains(b, cheapest)
	if aHas != bHas {
		return aHas
	}
	for i := range a {
		if a[i] != b[i] {
			return cands[a[i]].site.ID < cands[b[i]].site.ID
		}
	}
	return false
}

func contains(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
