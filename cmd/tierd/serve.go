package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/tierd/internal/api"
	"github.com/FairForge/tierd/internal/config"
	"github.com/FairForge/tierd/internal/database"
	"github.com/FairForge/tierd/internal/drivers"
	"github.com/FairForge/tierd/internal/engine"
	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/intelligence"
	"github.com/FairForge/tierd/internal/logging"
	"github.com/FairForge/tierd/internal/metrics"
	"github.com/FairForge/tierd/internal/policy"
	"github.com/FairForge/tierd/internal/queue"
	"github.com/FairForge/tierd/internal/storage"
)

func newServeCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the planner, the migrator and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgFile, envFile)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

func runServe(cfgFile, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.LoggerConfig{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("tierd started",
		zap.String("version", Version),
		zap.String("listen", cfg.Server.Listen),
		zap.String("store", cfg.Store.Driver),
		zap.Int("sites", len(cfg.Sites)))

	err = d.Run(ctx, cfgFile)
	logger.Info("tierd stopped")
	return err
}

// daemon holds the wired components of a running tierd
type daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	chaos      *policy.ChaosState
	security   *policy.SecurityPolicy
	aggregator *intelligence.Aggregator
	planner    *engine.Planner
	migrator   *engine.Migrator
	server     *api.Server
	closers    []func() error
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	catalog, err := buildCatalog(cfg.Sites)
	if err != nil {
		return nil, err
	}
	sites, err := buildDrivers(ctx, cfg.Sites, logger)
	if err != nil {
		return nil, err
	}

	encrypted := make(map[string]bool, len(cfg.Sites))
	for _, s := range cfg.Sites {
		encrypted[s.ID] = s.Encrypted
	}
	d.chaos = policy.NewChaosState()
	d.security = policy.NewSecurityPolicy(cfg.Policy.EncryptionEnforced, encrypted)
	cfg.Policy.Apply(d.chaos, d.security)

	if cfg.Redis.Addr != "" {
		mirror, err := policy.NewRedisMirror(ctx, cfg.Redis.Addr, cfg.Redis.Prefix, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, mirror.Close)
		if err := mirror.Restore(ctx, d.chaos, d.security); err != nil {
			return nil, fmt.Errorf("restore controls: %w", err)
		}
		d.chaos.SetMirror(mirror)
		d.security.SetMirror(mirror)
	}

	d.aggregator = intelligence.NewAggregator(0, logger)

	var (
		fileStore files.Store
		taskStore queue.Store
		source    intelligence.AccessSource
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg, err := database.NewPostgres(database.Config{DSN: cfg.Store.DatabaseURL}, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := pg.CreateTables(ctx); err != nil {
			return nil, err
		}
		fs := database.NewFileStore(pg)
		fileStore, taskStore = fs, database.NewTaskStore(pg)
		source = intelligence.MergedSource{fs, d.aggregator}
	default:
		fileStore, taskStore = files.NewMemoryStore(), queue.NewMemoryStore()
		source = d.aggregator
	}

	predictor, err := buildPredictor(cfg.Predictor)
	if err != nil {
		return nil, err
	}
	scorer := storage.NewHeatScorer(storage.ScorerConfig{
		HalfLife:         cfg.Scoring.HalfLife,
		Saturation:       cfg.Scoring.Saturation,
		PredictionWeight: cfg.Scoring.PredictionWeight,
		Timeout:          cfg.Predictor.Timeout,
	}, source, predictor, logger).OnFallback(d.metrics.PredictionFallback)

	history, err := engine.NewDecisionHistory(cfg.Engine.HistoryKeys, cfg.Engine.HistoryPerKey)
	if err != nil {
		return nil, err
	}

	d.planner = engine.NewPlanner(engine.PlannerConfig{
		RF:          cfg.Engine.RF,
		SLAMS:       cfg.Engine.SLAMS,
		ScoreWeight: cfg.Engine.ScoreWeight,
		Parallelism: cfg.Engine.Parallelism,
		Interval:    cfg.Engine.OptimizeInterval,
	}, fileStore, taskStore, scorer, catalog, history, d.metrics, logger)

	d.migrator = engine.NewMigrator(engine.MigrationOptions{
		Workers:        cfg.Migrator.Workers,
		PollInterval:   cfg.Migrator.PollInterval,
		Freshness:      cfg.Migrator.Freshness,
		MaxRetries:     cfg.Migrator.MaxRetries,
		InitialBackoff: cfg.Migrator.InitialBackoff,
		DeleteSource:   cfg.Migrator.DeleteSource,
	}, engine.MigratorDeps{
		Tasks:    taskStore,
		Files:    fileStore,
		Sites:    sites,
		Chaos:    d.chaos,
		Security: d.security,
		Metrics:  d.metrics,
	}, logger)

	d.server = api.NewServer(cfg.Server.Listen, Version, api.Deps{
		Planner:  d.planner,
		Catalog:  catalog,
		Tasks:    taskStore,
		Files:    fileStore,
		Chaos:    d.chaos,
		Security: d.security,
		Metrics:  d.metrics,
		Access:   d.aggregator,
	}, logger)

	return d, nil
}

// Run blocks until ctx is done or a component fails, then waits for the
// workers to finish their current task
func (d *daemon) Run(ctx context.Context, cfgFile string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.aggregator.Run(ctx)
		return nil
	})
	g.Go(func() error {
		d.planner.Run(ctx)
		return nil
	})
	g.Go(func() error {
		d.migrator.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	if cfgFile != "" {
		g.Go(func() error {
			return config.Watch(ctx, cfgFile, func(c *config.Config) {
				c.Policy.Apply(d.chaos, d.security)
			}, d.logger)
		})
	}

	return g.Wait()
}

func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", zap.Error(err))
		}
	}
	d.closers = nil
}

func buildCatalog(sites []config.SiteConfig) (*engine.Catalog, error) {
	out := make([]engine.Site, 0, len(sites))
	for _, s := range sites {
		out = append(out, engine.Site{
			ID:        s.ID,
			Provider:  engine.Provider(s.Provider),
			CostPerGB: s.CostPerGB,
			LatencyMS: s.LatencyMS,
			Encrypted: s.Encrypted,
		})
	}
	return engine.NewCatalog(out)
}

func buildDrivers(ctx context.Context, sites []config.SiteConfig, logger *zap.Logger) (map[string]drivers.Driver, error) {
	out := make(map[string]drivers.Driver, len(sites))
	for _, s := range sites {
		var (
			drv drivers.Driver
			err error
		)
		switch s.Driver {
		case config.SiteLocal:
			drv, err = drivers.NewLocalDriver(s.ID, s.Path, logger)
		case config.SiteS3:
			drv, err = drivers.NewS3Driver(ctx, s.ID, drivers.S3Config{
				Endpoint:  s.S3.Endpoint,
				Region:    s.S3.Region,
				Bucket:    s.S3.Bucket,
				AccessKey: s.S3.AccessKey,
				SecretKey: s.S3.SecretKey,
				PathStyle: s.S3.PathStyle,
			}, logger)
		case config.SiteMemory:
			drv = drivers.NewMemoryDriver(s.ID)
		default:
			err = fmt.Errorf("unknown driver %q", s.Driver)
		}
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", s.ID, err)
		}

		if s.BandwidthBPS > 0 {
			drv = drivers.NewThrottledDriver(drv, s.BandwidthBPS, logger)
		}
		out[s.ID] = drv
	}
	return out, nil
}

func buildPredictor(cfg config.PredictorConfig) (intelligence.Predictor, error) {
	switch cfg.Kind {
	case config.PredictorNone:
		return nil, nil
	case config.PredictorLogistic:
		model, err := intelligence.LoadLogisticModel(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		return &intelligence.HeuristicModel{}, nil
	}
}
