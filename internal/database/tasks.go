package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/tierd/internal/queue"
)

const taskColumns = `id, file_key, source, destination, slot, status, attempts,
	reason, last_error, created_at, started_at, completed_at`

// TaskStore is a queue.Store backed by PostgreSQL
type TaskStore struct {
	pg  *Postgres
	now func() time.Time
}

var _ queue.Store = (*TaskStore)(nil)

// NewTaskStore creates a task store on pg
func NewTaskStore(pg *Postgres) *TaskStore {
	return &TaskStore{pg: pg, now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*queue.MigrationTask, error) {
	var (
		t                      queue.MigrationTask
		status                 string
		reason, lastErr        sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Key, &t.Source, &t.Destination, &t.Slot, &status, &t.Attempts,
		&reason, &lastErr, &t.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = queue.Status(status)
	t.Reason = reason.String
	t.LastError = lastErr.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Enqueue inserts t unless the key already has an active task. The partial
// unique index makes the insert conditional, so concurrent passes cannot
// both succeed.
func (s *TaskStore) Enqueue(ctx context.Context, t *queue.MigrationTask) (*queue.MigrationTask, error) {
	if t.Key == "" {
		return nil, fmt.Errorf("queue: file key is required")
	}
	stored := t.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = queue.StatusQueued
	}
	if stored.Status != queue.StatusQueued {
		return nil, fmt.Errorf("%w: enqueue with status %s", queue.ErrInvalidTransition, stored.Status)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}

	query := `INSERT INTO migration_tasks (id, file_key, source, destination, slot, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		ON CONFLICT (file_key) WHERE status IN ('queued', 'in_progress') DO NOTHING
		RETURNING id`

	var id string
	err := s.pg.db.QueryRowContext(ctx, query,
		stored.ID, stored.Key, stored.Source, stored.Destination, stored.Slot,
		string(stored.Status), stored.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing, activeErr := s.Active(ctx, stored.Key)
		if activeErr != nil {
			return nil, fmt.Errorf("%w: %s", queue.ErrActiveTask, stored.Key)
		}
		return nil, &queue.ActiveTaskError{Existing: existing}
	}
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return stored, nil
}

// Claim moves the oldest queued task to in_progress; SKIP LOCKED lets many
// workers claim concurrently without ever returning the same row twice.
func (s *TaskStore) Claim(ctx context.Context) (*queue.MigrationTask, error) {
	query := `UPDATE migration_tasks SET status = 'in_progress', started_at = $1
		WHERE id = (
			SELECT id FROM migration_tasks
			WHERE status = 'queued'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + taskColumns

	t, err := scanTask(s.pg.db.QueryRowContext(ctx, query, s.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

// Complete writes a terminal result; it only applies to in_progress rows
func (s *TaskStore) Complete(ctx context.Context, id string, res queue.Result) (*queue.MigrationTask, error) {
	if !res.Status.Terminal() {
		return nil, fmt.Errorf("%w: in_progress -> %s", queue.ErrInvalidTransition, res.Status)
	}

	query := `UPDATE migration_tasks
		SET status = $2, reason = $3, attempts = $4, last_error = $5, completed_at = $6
		WHERE id = $1 AND status = 'in_progress'
		RETURNING ` + taskColumns

	t, err := scanTask(s.pg.db.QueryRowContext(ctx, query,
		id, string(res.Status), nullString(res.Reason), res.Attempts, nullString(res.LastError), s.now()))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", queue.ErrInvalidTransition, current.Status, res.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*queue.MigrationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM migration_tasks WHERE id = $1`
	t, err := scanTask(s.pg.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Active(ctx context.Context, key string) (*queue.MigrationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM migration_tasks
		WHERE file_key = $1 AND status IN ('queued', 'in_progress')`
	t, err := scanTask(s.pg.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active task for %s: %w", key, queue.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query active task: %w", err)
	}
	return t, nil
}

// List returns matching tasks, newest first
func (s *TaskStore) List(ctx context.Context, f queue.Filter) ([]*queue.MigrationTask, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Reason != "" {
		args = append(args, f.Reason)
		where = append(where, fmt.Sprintf("reason = $%d", len(args)))
	}
	if f.Key != "" {
		args = append(args, f.Key)
		where = append(where, fmt.Sprintf("file_key = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM migration_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pg.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*queue.MigrationTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TaskStore) Counts(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.pg.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM migration_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[queue.Status]int, len(queue.AllStatuses))
	for _, st := range queue.AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[queue.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *TaskStore) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := s.pg.db.ExecContext(ctx,
		`UPDATE migration_tasks SET status = 'failed', reason = $1, completed_at = $2
		WHERE status = 'in_progress'`,
		queue.ReasonInterrupted, s.now())
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.pg.logger.Warn("failed interrupted migration tasks", zap.Int64("count", n))
	}
	return int(n), nil
}
