// internal/engine/migrator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/tierd/internal/drivers"
	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/metrics"
	"github.com/FairForge/tierd/internal/policy"
	"github.com/FairForge/tierd/internal/queue"
)

// MigrationOptions controls migration behavior
type MigrationOptions struct {
	Workers        int
	PollInterval   time.Duration
	Freshness      time.Duration // a source modified more recently is still growing
	MaxRetries     int
	InitialBackoff time.Duration
	DeleteSource   bool
}

// DefaultMigrationOptions returns the production defaults
func DefaultMigrationOptions() MigrationOptions {
	return MigrationOptions{
		Workers:        4,
		PollInterval:   time.Second,
		Freshness:      5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Second,
	}
}

// MigratorDeps are the collaborators a Migrator reads and writes
type MigratorDeps struct {
	Tasks    queue.Store
	Files    files.Store
	Sites    map[string]drivers.Driver
	Chaos    *policy.ChaosState
	Security *policy.SecurityPolicy
	Metrics  *metrics.Metrics
}

// Migrator drains the task store, running each task to a terminal status
type Migrator struct {
	opts     MigrationOptions
	tasks    queue.Store
	files    files.Store
	sites    map[string]drivers.Driver
	chaos    *policy.ChaosState
	security *policy.SecurityPolicy
	metrics  *metrics.Metrics
	logger   *zap.Logger

	now   func() time.Time
	sleep drivers.SleepFunc // backoff between attempts
	pause drivers.SleepFunc // injected latency and idle polling
}

// NewMigrator creates a migrator
func NewMigrator(opts MigrationOptions, deps MigratorDeps, logger *zap.Logger) *Migrator {
	def := DefaultMigrationOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Freshness <= 0 {
		opts.Freshness = def.Freshness
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Chaos == nil {
		deps.Chaos = policy.NewChaosState()
	}
	if deps.Security == nil {
		deps.Security = policy.NewSecurityPolicy(false, nil)
	}
	return &Migrator{
		opts:     opts,
		tasks:    deps.Tasks,
		files:    deps.Files,
		sites:    deps.Sites,
		chaos:    deps.Chaos,
		security: deps.Security,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
		sleep:    drivers.SleepContext,
		pause:    drivers.SleepContext,
	}
}

// WithClock overrides the clock used for the freshness check
func (m *Migrator) WithClock(now func() time.Time) *Migrator {
	m.now = now
	return m
}

// WithSleeper overrides the backoff wait
func (m *Migrator) WithSleeper(sleep drivers.SleepFunc) *Migrator {
	m.sleep = sleep
	return m
}

// WithPause overrides the latency injection and polling wait
func (m *Migrator) WithPause(pause drivers.SleepFunc) *Migrator {
	m.pause = pause
	return m
}

// outcome ends the attempt loop with a fixed terminal status
type outcome struct {
	status queue.Status
	reason string
	err    error
}

func (o *outcome) Error() string {
	if o.err != nil {
		return fmt.Sprintf("%s/%s: %v", o.status, o.reason, o.err)
	}
	return fmt.Sprintf("%s/%s", o.status, o.reason)
}

func (o *outcome) Unwrap() error { return o.err }

func stop(status queue.Status, reason string, err error) error {
	return &outcome{status: status, reason: reason, err: err}
}

func (m *Migrator) retryable(err error) bool {
	return errors.Is(err, ErrEndpointUnavailable) || drivers.IsThrottling(err)
}

// Run claims and executes tasks on a pool of workers until ctx is done.
// Tasks left in progress by a previous process are failed first.
func (m *Migrator) Run(ctx context.Context) {
	if n, err := m.tasks.RecoverInterrupted(ctx); err != nil {
		m.logger.Error("recover interrupted tasks", zap.Error(err))
	} else if n > 0 {
		m.logger.Warn("marked interrupted tasks failed", zap.Int("count", n))
	}

	var wg sync.WaitGroup
	for i := 0; i < m.opts.Workers; i++ {
		wg.Add(1)
		go m.worker(ctx, &wg, i)
	}
	wg.Wait()
}

func (m *Migrator) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	logger := m.logger.With(zap.Int("worker", id))

	for ctx.Err() == nil {
		task, err := m.tasks.Claim(ctx)
		if errors.Is(err, queue.ErrNoTask) {
			_ = m.pause(ctx, m.opts.PollInterval)
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("claim task", zap.Error(err))
			}
			_ = m.pause(ctx, m.opts.PollInterval)
			continue
		}
		if _, err := m.Process(ctx, task); err != nil {
			logger.Error("record task result", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

// Process runs a claimed task and records its terminal status. The result
// is written even when ctx is cancelled.
func (m *Migrator) Process(ctx context.Context, task *queue.MigrationTask) (*queue.MigrationTask, error) {
	start := time.Now()
	res := m.safeExecute(ctx, task)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	done, err := m.tasks.Complete(recordCtx, task.ID, res)

	m.metrics.ObserveMigration(string(res.Status), time.Since(start), res.Attempts)

	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("key", task.Key),
		zap.String("source", task.Source),
		zap.String("destination", task.Destination),
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Int("attempts", res.Attempts),
	}
	if res.LastError != "" {
		fields = append(fields, zap.String("last_error", res.LastError))
	}
	switch res.Status {
	case queue.StatusSucceeded, queue.StatusSkipped:
		m.logger.Info("migration finished", fields...)
	default:
		m.logger.Warn("migration finished", fields...)
	}
	return done, err
}

func (m *Migrator) safeExecute(ctx context.Context, task *queue.MigrationTask) (res queue.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = queue.Result{
				Status:    queue.StatusFailed,
				Reason:    queue.ReasonCopyError,
				Attempts:  max(res.Attempts, 1),
				LastError: fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return m.Execute(ctx, task)
}

// Execute runs the attempt loop for task and returns its terminal result
// without recording it. The placement pointer changes only on success.
func (m *Migrator) Execute(ctx context.Context, task *queue.MigrationTask) queue.Result {
	src, okSrc := m.sites[task.Source]
	dst, okDst := m.sites[task.Destination]
	if !okSrc || !okDst {
		return queue.Result{
			Status:    queue.StatusFailed,
			Reason:    queue.ReasonCopyError,
			Attempts:  1,
			LastError: fmt.Sprintf("no driver for %s -> %s", task.Source, task.Destination),
		}
	}

	rec, err := m.files.Get(ctx, task.Key)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(1, ctx.Err())
		}
		return queue.Result{Status: queue.StatusFailed, Reason: queue.ReasonMissingSource, Attempts: 1, LastError: err.Error()}
	}
	commit := files.Commit{
		Key:             task.Key,
		Slot:            task.Slot,
		Destination:     task.Destination,
		ExpectedVersion: rec.Version,

		DestinationEncrypted: m.security.EndpointEncrypted(task.Destination),
	}
	if task.Slot < len(rec.Sites) {
		if rec.Sites[task.Slot] != task.Source {
			return queue.Result{
				Status:    queue.StatusFailed,
				Reason:    queue.ReasonCommitConflict,
				Attempts:  1,
				LastError: fmt.Sprintf("slot %d now holds %s", task.Slot, rec.Sites[task.Slot]),
			}
		}
		commit.ExpectedSource = task.Source
	}

	var alreadyPresent bool
	retry := drivers.NewRetryPolicy(
		drivers.WithMaxRetries(m.opts.MaxRetries),
		drivers.WithInitialDelay(m.opts.InitialBackoff),
		drivers.WithRetryable(m.retryable),
		drivers.WithSleeper(m.sleep),
		drivers.WithLogger(m.logger.With(zap.String("task_id", task.ID))),
	)
	run, err := retry.Execute(ctx, func(int) error {
		var err error
		alreadyPresent, err = m.attempt(ctx, task, src, dst)
		return err
	})
	attempts := max(run.Attempts, 1)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return classify(ctx, err, attempts)
	}

	updated, err := m.files.CommitPlacement(ctx, commit)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(attempts, err)
		}
		return queue.Result{Status: queue.StatusFailed, Reason: queue.ReasonCommitConflict, Attempts: attempts, LastError: err.Error()}
	}

	if m.opts.DeleteSource && !referenced(updated.Sites, task.Source) {
		m.removeBestEffort(src, task.Key)
	}

	res := queue.Result{Status: queue.StatusSucceeded, Attempts: attempts}
	if alreadyPresent {
		res.Reason = queue.ReasonAlreadyPresent
	}
	return res
}

// attempt is one pass over the checks and the copy. It reports whether the
// destination already held the content.
func (m *Migrator) attempt(ctx context.Context, task *queue.MigrationTask, src, dst drivers.Driver) (bool, error) {
	for _, id := range []string{task.Source, task.Destination} {
		if m.chaos.IsFailed(id) {
			return false, fmt.Errorf("%w: %s", ErrEndpointUnavailable, id)
		}
	}

	if !m.security.Allows(task.Destination) {
		return false, stop(queue.StatusBlocked, queue.ReasonDestinationNotEncrypted, nil)
	}

	info, err := src.Stat(ctx, task.Key)
	switch {
	case drivers.IsNotFound(err):
		return false, stop(queue.StatusFailed, queue.ReasonMissingSource, err)
	case err != nil:
		return false, fmt.Errorf("stat source: %w", err)
	case info.Size == 0:
		return false, stop(queue.StatusSkipped, queue.ReasonEmptySource, nil)
	case m.now().Sub(info.ModTime) < m.opts.Freshness:
		return false, stop(queue.StatusSkipped, queue.ReasonFileGrowing, nil)
	}

	if d := m.chaos.Latency(); d > 0 {
		if err := m.pause(ctx, d); err != nil {
			return false, err
		}
	}

	srcSum, srcSize, err := drivers.DigestObject(ctx, src, task.Key)
	if err != nil {
		return false, fmt.Errorf("read source: %w", err)
	}

	if m.holds(ctx, dst, task.Key, srcSum, srcSize) {
		return true, nil
	}

	if err := m.copy(ctx, src, dst, task.Key, info.Size); err != nil {
		return false, err
	}

	dstSum, dstSize, err := drivers.DigestObject(ctx, dst, task.Key)
	if err != nil {
		return false, fmt.Errorf("read destination: %w", err)
	}
	if dstSize != srcSize || dstSum != srcSum {
		m.removeBestEffort(dst, task.Key)
		return false, stop(queue.StatusFailed, queue.ReasonChecksumMismatch,
			fmt.Errorf("source %d bytes %s, destination %d bytes %s", srcSize, srcSum, dstSize, dstSum))
	}
	return false, nil
}

// holds reports whether dst already has identical content under key
func (m *Migrator) holds(ctx context.Context, dst drivers.Driver, key, sum string, size int64) bool {
	info, err := dst.Stat(ctx, key)
	if err != nil || info.Size != size {
		return false
	}
	got, n, err := drivers.DigestObject(ctx, dst, key)
	return err == nil && n == size && got == sum
}

func (m *Migrator) copy(ctx context.Context, src, dst drivers.Driver, key string, size int64) error {
	reader, err := src.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading from source: %w", err)
	}
	defer func() { _ = reader.Close() }()

	if err := dst.Put(ctx, key, reader, size); err != nil {
		return fmt.Errorf("writing to destination: %w", err)
	}
	return nil
}

func (m *Migrator) removeBestEffort(d drivers.Driver, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Delete(ctx, key); err != nil && !drivers.IsNotFound(err) {
		m.logger.Warn("cleanup failed", zap.String("site", d.Name()), zap.String("key", key), zap.Error(err))
	}
}

func referenced(sites []string, id string) bool {
	for _, s := range sites {
		if s == id {
			return true
		}
	}
	return false
}

func interrupted(attempts int, err error) queue.Result {
	return queue.Result{Status: queue.StatusFailed, Reason: queue.ReasonInterrupted, Attempts: attempts, LastError: err.Error()}
}

func classify(ctx context.Context, err error, attempts int) queue.Result {
	var o *outcome
	if errors.As(err, &o) {
		res := queue.Result{Status: o.status, Reason: o.reason, Attempts: attempts}
		if o.err != nil {
			res.LastError = o.err.Error()
		}
		return res
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return interrupted(attempts, err)
	}
	var exhausted *drivers.ExhaustedError
	if errors.As(err, &exhausted) {
		return queue.Result{
			Status:    queue.StatusFailed,
			Reason:    queue.ReasonRetriesExhausted,
			Attempts:  attempts,
			LastError: exhausted.Err.Error(),
		}
	}
	return queue.Result{Status: queue.StatusFailed, Reason: queue.ReasonCopyError, Attempts: attempts, LastError: err.Error()}
}
