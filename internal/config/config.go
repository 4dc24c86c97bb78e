package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/tierd/internal/policy"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Migrator  MigratorConfig  `yaml:"migrator"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Predictor PredictorConfig `yaml:"predictor"`
	Policy    PolicyConfig    `yaml:"policy"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Sites     []SiteConfig    `yaml:"sites"`
}

type ServerConfig struct {
	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type EngineConfig struct {
	RF               int           `yaml:"rf"`
	SLAMS            float64       `yaml:"sla_ms"`
	ScoreWeight      float64       `yaml:"score_weight"`
	Parallelism      int           `yaml:"parallelism"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
	HistoryKeys      int           `yaml:"history_keys"`
	HistoryPerKey    int           `yaml:"history_per_key"`
}

type MigratorConfig struct {
	Workers        int           `yaml:"workers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Freshness      time.Duration `yaml:"freshness"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	DeleteSource   bool          `yaml:"delete_source"`
}

type ScoringConfig struct {
	HalfLife         time.Duration `yaml:"half_life"`
	Saturation       float64       `yaml:"saturation"`
	PredictionWeight float64       `yaml:"prediction_weight"`
}

// Predictor kinds
const (
	PredictorHeuristic = "heuristic"
	PredictorLogistic  = "logistic"
	PredictorNone      = "none"
)

type PredictorConfig struct {
	Kind      string        `yaml:"kind"`
	ModelPath string        `yaml:"model_path"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PolicyConfig is the startup state of the policy and chaos controls. It is
// re-applied when the config file changes.
type PolicyConfig struct {
	EncryptionEnforced bool     `yaml:"encryption_enforced"`
	FailedEndpoints    []string `yaml:"failed_endpoints"`
	LatencyMS          int64    `yaml:"latency_ms"`
}

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// Site drivers
const (
	SiteMemory = "memory"
	SiteLocal  = "local"
	SiteS3     = "s3"
)

type SiteConfig struct {
	ID           string   `yaml:"id"`
	Provider     string   `yaml:"provider"`
	CostPerGB    float64  `yaml:"cost_per_gb"`
	LatencyMS    float64  `yaml:"latency_ms"`
	Encrypted    bool     `yaml:"encrypted"`
	Driver       string   `yaml:"driver"`
	Path         string   `yaml:"path"`
	S3           S3Config `yaml:"s3"`
	BandwidthBPS int      `yaml:"bandwidth_bps"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// Load reads path, fills defaults, applies environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Listen, ":8080")
	setDefault(&c.Server.LogLevel, "info")
	setDefault(&c.Server.LogFormat, "json")

	if c.Engine.RF == 0 {
		c.Engine.RF = 1
	}
	if c.Engine.SLAMS == 0 {
		c.Engine.SLAMS = 100
	}
	if c.Engine.ScoreWeight == 0 {
		c.Engine.ScoreWeight = 1
	}
	if c.Engine.Parallelism == 0 {
		c.Engine.Parallelism = 8
	}
	if c.Engine.OptimizeInterval == 0 {
		c.Engine.OptimizeInterval = time.Minute
	}
	if c.Engine.HistoryKeys == 0 {
		c.Engine.HistoryKeys = 100000
	}
	if c.Engine.HistoryPerKey == 0 {
		c.Engine.HistoryPerKey = 16
	}

	if c.Migrator.Workers == 0 {
		c.Migrator.Workers = 4
	}
	if c.Migrator.PollInterval == 0 {
		c.Migrator.PollInterval = time.Second
	}
	if c.Migrator.Freshness == 0 {
		c.Migrator.Freshness = 5 * time.Second
	}
	if c.Migrator.MaxRetries == 0 {
		c.Migrator.MaxRetries = 3
	}
	if c.Migrator.InitialBackoff == 0 {
		c.Migrator.InitialBackoff = time.Second
	}

	if c.Scoring.HalfLife == 0 {
		c.Scoring.HalfLife = time.Hour
	}
	if c.Scoring.Saturation == 0 {
		c.Scoring.Saturation = 10
	}
	if c.Scoring.PredictionWeight == 0 {
		c.Scoring.PredictionWeight = 0.5
	}

	setDefault(&c.Predictor.Kind, PredictorHeuristic)
	if c.Predictor.Timeout == 0 {
		c.Predictor.Timeout = 250 * time.Millisecond
	}

	setDefault(&c.Store.Driver, StoreMemory)
	setDefault(&c.Redis.Prefix, "tierd:")

	for i := range c.Sites {
		setDefault(&c.Sites[i].Driver, SiteMemory)
		if c.Sites[i].Provider == "" {
			c.Sites[i].Provider = c.Sites[i].ID
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.RF < 1 {
		errs = append(errs, fmt.Errorf("engine.rf must be at least 1"))
	}
	if c.Engine.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("engine.parallelism must be at least 1"))
	}
	if c.Engine.OptimizeInterval < 0 || c.Migrator.PollInterval < 0 ||
		c.Migrator.Freshness < 0 || c.Migrator.InitialBackoff < 0 || c.Predictor.Timeout < 0 {
		errs = append(errs, fmt.Errorf("intervals must not be negative"))
	}
	if c.Migrator.Workers < 1 {
		errs = append(errs, fmt.Errorf("migrator.workers must be at least 1"))
	}
	if c.Migrator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("migrator.max_retries must not be negative"))
	}
	if c.Scoring.PredictionWeight < 0 || c.Scoring.PredictionWeight > 1 {
		errs = append(errs, fmt.Errorf("scoring.prediction_weight must be within [0,1]"))
	}
	if c.Policy.LatencyMS < 0 {
		errs = append(errs, fmt.Errorf("policy.latency_ms must not be negative"))
	}

	switch c.Predictor.Kind {
	case PredictorHeuristic, PredictorNone:
	case PredictorLogistic:
		if c.Predictor.ModelPath == "" {
			errs = append(errs, fmt.Errorf("predictor.model_path is required for the logistic predictor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown predictor kind %q", c.Predictor.Kind))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("store.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	seen := make(map[string]bool, len(c.Sites))
	for _, s := range c.Sites {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("site id is required"))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate site id %q", s.ID))
		}
		seen[s.ID] = true
		switch s.Driver {
		case SiteMemory:
		case SiteLocal:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("site %q: path is required for local sites", s.ID))
			}
		case SiteS3:
			if s.S3.Bucket == "" {
				errs = append(errs, fmt.Errorf("site %q: s3.bucket is required", s.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("site %q: unknown driver %q", s.ID, s.Driver))
		}
		if s.CostPerGB < 0 || s.LatencyMS < 0 || s.BandwidthBPS < 0 {
			errs = append(errs, fmt.Errorf("site %q: cost, latency and bandwidth must not be negative", s.ID))
		}
	}
	return errors.Join(errs...)
}

// Apply pushes the policy section into the live controls. Setting the same
// values twice is a no-op.
func (p PolicyConfig) Apply(chaos *policy.ChaosState, sec *policy.SecurityPolicy) {
	sec.SetEnforced(p.EncryptionEnforced)
	chaos.SetFailedEndpoints(p.FailedEndpoints)
	chaos.SetLatency(p.LatencyMS)
}
