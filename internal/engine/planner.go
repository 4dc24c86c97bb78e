// internal/engine/planner.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/metrics"
	"github.com/FairForge/tierd/internal/queue"
	"github.com/FairForge/tierd/internal/storage"
)

// Outcome of evaluating one key
type Outcome string

const (
	OutcomeEnqueued      Outcome = "enqueued"
	OutcomeInSync        Outcome = "in_sync"
	OutcomeAlreadyActive Outcome = "already_active"
	OutcomeInfeasible    Outcome = "infeasible"
	OutcomeError         Outcome = "error"
)

// Evaluation is the result of Evaluate and Trigger
type Evaluation struct {
	Key         string               `json:"key"`
	Outcome     Outcome              `json:"outcome"`
	Task        *queue.MigrationTask `json:"task,omitempty"`
	Explanation *Explanation         `json:"explanation,omitempty"`
}

// PlannerConfig controls the optimization pass
type PlannerConfig struct {
	RF          int
	SLAMS       float64
	ScoreWeight float64
	Parallelism int
	Interval    time.Duration
}

// PassStats summarizes one optimization pass
type PassStats struct {
	Files    int
	Outcomes map[Outcome]int
	Duration time.Duration
}

// Planner runs the score, solve and enqueue pipeline over the file population
type Planner struct {
	cfg     PlannerConfig
	files   files.Store
	tasks   queue.Store
	scorer  *storage.HeatScorer
	solver  *Solver
	catalog *Catalog
	history *DecisionHistory
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	locks [64]sync.Mutex
}

// NewPlanner wires a planner. m may be nil.
func NewPlanner(cfg PlannerConfig, fileStore files.Store, tasks queue.Store, scorer *storage.HeatScorer,
	catalog *Catalog, history *DecisionHistory, m *metrics.Metrics, logger *zap.Logger) *Planner {
	if cfg.RF <= 0 {
		cfg.RF = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if history == nil {
		history, _ = NewDecisionHistory(0, 0)
	}
	return &Planner{
		cfg:     cfg,
		files:   fileStore,
		tasks:   tasks,
		scorer:  scorer,
		solver:  NewSolver(),
		catalog: catalog,
		history: history,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for decision timestamps and for the
// scorer's recency, so one pinned clock drives a whole evaluation. The scorer
// is shared, so its clock changes for every other user too.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	if p.scorer != nil {
		p.scorer.WithClock(now)
	}
	return p
}

func (p *Planner) lock(key string) func() {
	mu := &p.locks[xxhash.Sum64String(key)%uint64(len(p.locks))]
	mu.Lock()
	return mu.Unlock
}

// Evaluate scores and solves key, records the decision and enqueues a task
// for the first replica slot that differs from the desired placement.
// Infeasible placements return an *InfeasibleError and enqueue nothing.
func (p *Planner) Evaluate(ctx context.Context, key string) (*Evaluation, error) {
	unlock := p.lock(key)
	defer unlock()

	eval, err := p.evaluate(ctx, key)
	outcome := OutcomeError
	if eval != nil {
		outcome = eval.Outcome
	}
	p.metrics.ObserveEvaluation(string(outcome))
	return eval, err
}

func (p *Planner) evaluate(ctx context.Context, key string) (*Evaluation, error) {
	rec, err := p.files.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(rec.Sites) == 0 {
		return nil, fmt.Errorf("%s has no replica to migrate from", key)
	}

	score, err := p.scorer.Score(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", key, err)
	}
	if err := p.files.UpdateHeat(ctx, key, score.Heat, score.PHot); err != nil {
		return nil, fmt.Errorf("update heat %s: %w", key, err)
	}

	exp := Explanation{
		Key:                   key,
		SLAMS:                 p.cfg.SLAMS,
		RF:                    p.cfg.RF,
		PHot:                  score.PHot,
		Heat:                  score.Heat,
		Tier:                  score.Tier,
		PredictionUnavailable: score.PredictionUnavailable,
		DecidedAt:             p.now(),
	}

	decision, err := p.solver.Solve(SolveInput{
		Key:         key,
		Heat:        score.Heat,
		Candidates:  p.catalog.Sites(),
		RF:          p.cfg.RF,
		SLAMS:       p.cfg.SLAMS,
		ScoreWeight: p.cfg.ScoreWeight,
	})
	var infeasible *InfeasibleError
	if errors.As(err, &infeasible) {
		exp.InfeasibleReason = infeasible.Reason
		p.history.Record(exp)
		p.logger.Info("placement infeasible",
			zap.String("key", key), zap.String("reason", infeasible.Reason))
		return &Evaluation{Key: key, Outcome: OutcomeInfeasible, Explanation: &exp}, err
	}
	if err != nil {
		return nil, err
	}

	exp.Objective = decision.Objective
	exp.ChosenSites = decision.Sites
	exp.Scores = decision.Scores
	p.history.Record(exp)

	eval := &Evaluation{Key: key, Outcome: OutcomeInSync, Explanation: &exp}
	change, ok := FirstSlotChange(rec.Sites, decision.Sites)
	if !ok {
		return eval, nil
	}

	task, err := p.tasks.Enqueue(ctx, queue.NewTask(key, change.Source, change.Destination, change.Slot))
	var active *queue.ActiveTaskError
	switch {
	case errors.As(err, &active):
		eval.Outcome = OutcomeAlreadyActive
		eval.Task = active.Existing
		return eval, nil
	case err != nil:
		return nil, fmt.Errorf("enqueue %s: %w", key, err)
	}

	p.logger.Info("migration enqueued",
		zap.String("key", key),
		zap.String("task_id", task.ID),
		zap.Int("slot", task.Slot),
		zap.String("source", task.Source),
		zap.String("destination", task.Destination))

	eval.Outcome = OutcomeEnqueued
	eval.Task = task
	return eval, nil
}

// SlotChange is one replica slot that must move
type SlotChange struct {
	Slot        int
	Source      string
	Destination string
}

// FirstSlotChange diffs current against desired. Sites already in the
// desired set keep their slot; the remaining desired sites fill the other
// slots in preference order. New slots copy from the primary. Replicas beyond
// the desired count are left alone.
func FirstSlotChange(current, desired []string) (SlotChange, bool) {
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}

	var missing []string
	for _, id := range desired {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return SlotChange{}, false
	}

	for slot := 0; slot < len(desired) && slot < len(current); slot++ {
		if !want[current[slot]] {
			return SlotChange{Slot: slot, Source: current[slot], Destination: missing[0]}, true
		}
	}
	return SlotChange{Slot: len(current), Source: current[0], Destination: missing[0]}, true
}

// Trigger forces an immediate evaluation of key
func (p *Planner) Trigger(ctx context.Context, key string) (*Evaluation, error) {
	return p.Evaluate(ctx, key)
}

// Explain returns the latest decision recorded for key
func (p *Planner) Explain(key string) (Explanation, bool) {
	return p.history.Latest(key)
}

// History returns the retained decisions for key, newest first
func (p *Planner) History(key string) []Explanation {
	return p.history.History(key)
}

// RunPass evaluates every file with bounded parallelism. Per-file failures
// are logged and counted; only a failure to list files aborts the pass.
func (p *Planner) RunPass(ctx context.Context) (PassStats, error) {
	start := time.Now()
	recs, err := p.files.List(ctx)
	if err != nil {
		return PassStats{}, fmt.Errorf("list files: %w", err)
	}

	stats := PassStats{Files: len(recs), Outcomes: make(map[Outcome]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)
	for _, rec := range recs {
		key := rec.Key
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			eval, err := p.Evaluate(gctx, key)
			outcome := OutcomeError
			if eval != nil {
				outcome = eval.Outcome
			}
			if err != nil && outcome == OutcomeError {
				p.logger.Warn("placement evaluation failed", zap.String("key", key), zap.Error(err))
			}
			mu.Lock()
			stats.Outcomes[outcome]++
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	stats.Duration = time.Since(start)
	p.refreshQueueDepth(ctx)

	p.logger.Info("optimization pass finished",
		zap.Int("files", stats.Files),
		zap.Int("enqueued", stats.Outcomes[OutcomeEnqueued]),
		zap.Int("in_sync", stats.Outcomes[OutcomeInSync]),
		zap.Int("already_active", stats.Outcomes[OutcomeAlreadyActive]),
		zap.Int("infeasible", stats.Outcomes[OutcomeInfeasible]),
		zap.Int("errors", stats.Outcomes[OutcomeError]),
		zap.Duration("duration", stats.Duration))
	return stats, err
}

func (p *Planner) refreshQueueDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	counts, err := p.tasks.Counts(ctx)
	if err != nil {
		p.logger.Debug("task counts unavailable", zap.Error(err))
		return
	}
	for status, n := range counts {
		p.metrics.SetQueueDepth(string(status), n)
	}
}

// Run executes a pass immediately and then every interval until ctx is done
func (p *Planner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunPass(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("optimization pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
