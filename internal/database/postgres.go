package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	// DSN takes precedence over the discrete fields when set
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConnString renders the lib/pq connection string
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode)
}

// Postgres represents a PostgreSQL connection
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres opens a PostgreSQL connection pool
func NewPostgres(cfg Config, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgresFromDB(db, logger), nil
}

// NewPostgresFromDB wraps an existing handle
func NewPostgresFromDB(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

// DB exposes the underlying handle
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the file and task tables. The partial unique index
// is what enforces one active migration task per file key.
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS files (
			key TEXT PRIMARY KEY,
			size BIGINT NOT NULL DEFAULT 0,
			sites TEXT[] NOT NULL DEFAULT '{}',
			last_modified TIMESTAMPTZ,
			last_access TIMESTAMPTZ,
			access_1h BIGINT NOT NULL DEFAULT 0,
			access_24h BIGINT NOT NULL DEFAULT 0,
			heat DOUBLE PRECISION NOT NULL DEFAULT 0,
			p_hot DOUBLE PRECISION NOT NULL DEFAULT 0,
			encrypted BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS migration_tasks (
			id UUID PRIMARY KEY,
			file_key TEXT NOT NULL,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			slot INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			reason TEXT,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS migration_tasks_one_active
			ON migration_tasks (file_key) WHERE status IN ('queued', 'in_progress')`,
		`CREATE INDEX IF NOT EXISTS migration_tasks_status_created
			ON migration_tasks (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	p.logger.Info("database schema ready")
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
