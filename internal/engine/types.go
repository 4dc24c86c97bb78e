package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/FairForge/tierd/internal/storage"
)

// Provider is the underlying cloud or category of a site
type Provider string

// Site is one storage endpoint in the catalog
type Site struct {
	ID        string   `json:"id" yaml:"id"`
	Provider  Provider `json:"provider" yaml:"provider"`
	CostPerGB float64  `json:"cost_per_gb" yaml:"cost_per_gb"`
	LatencyMS float64  `json:"latency_ms" yaml:"latency_ms"`
	Encrypted bool     `json:"encrypted" yaml:"encrypted"`
}

// Catalog is the static set of candidate sites. It is immutable after
// construction.
type Catalog struct {
	sites map[string]Site
}

// NewCatalog validates and indexes sites
func NewCatalog(sites []Site) (*Catalog, error) {
	c := &Catalog{sites: make(map[string]Site, len(sites))}
	for _, s := range sites {
		if s.ID == "" {
			return nil, fmt.Errorf("site id is required")
		}
		if _, dup := c.sites[s.ID]; dup {
			return nil, fmt.Errorf("duplicate site id %q", s.ID)
		}
		if s.CostPerGB < 0 || s.LatencyMS < 0 {
			return nil, fmt.Errorf("site %q: cost and latency must be non-negative", s.ID)
		}
		c.sites[s.ID] = s
	}
	return c, nil
}

// Get returns the site with the given id
func (c *Catalog) Get(id string) (Site, bool) {
	s, ok := c.sites[id]
	return s, ok
}

// Sites returns every site ordered by id
func (c *Catalog) Sites() []Site {
	out := make([]Site, 0, len(c.sites))
	for _, s := range c.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of sites
func (c *Catalog) Len() int {
	return len(c.sites)
}

// PlacementDecision is the solver output for one file
type PlacementDecision struct {
	Key       string             `json:"key"`
	Objective float64            `json:"objective"`
	Sites     []string           `json:"chosen_sites"`
	Scores    map[string]float64 `json:"per_site_scores"`
	SLAMS     float64            `json:"sla_ms"`
	RF        int                `json:"rf"`
}

// Explanation is what explain returns for a key: the latest decision plus
// the scoring inputs that produced it
type Explanation struct {
	Key                   string             `json:"key"`
	Objective             float64            `json:"objective"`
	ChosenSites           []string           `json:"chosen_sites"`
	SLAMS                 float64            `json:"sla_ms"`
	RF                    int                `json:"rf"`
	PHot                  float64            `json:"p_hot"`
	Heat                  float64            `json:"heat"`
	Tier                  storage.TierLevel  `json:"tier"`
	Scores                map[string]float64 `json:"per_site_scores"`
	PredictionUnavailable bool               `json:"prediction_unavailable"`
	InfeasibleReason      string             `json:"infeasible_reason,omitempty"`
	DecidedAt             time.Time          `json:"decided_at"`
}
