package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/intelligence"
)

const fileColumns = `key, size, sites, last_modified, last_access, access_1h, access_24h,
	heat, p_hot, encrypted, version`

// FileStore is a files.Store backed by PostgreSQL. Access counters are
// written by the ingestion side, so it also serves as an AccessSource.
type FileStore struct {
	pg *Postgres
}

var (
	_ files.Store               = (*FileStore)(nil)
	_ intelligence.AccessSource = (*FileStore)(nil)
)

// NewFileStore creates a file store on pg
func NewFileStore(pg *Postgres) *FileStore {
	return &FileStore{pg: pg}
}

func scanFile(row rowScanner) (*files.FileRecord, error) {
	var (
		rec                    files.FileRecord
		sites                  pq.StringArray
		lastModified, lastSeen sql.NullTime
	)
	err := row.Scan(&rec.Key, &rec.Size, &sites, &lastModified, &lastSeen,
		&rec.Access1h, &rec.Access24h, &rec.Heat, &rec.PHot, &rec.Encrypted, &rec.Version)
	if err != nil {
		return nil, err
	}
	rec.Sites = []string(sites)
	if lastModified.Valid {
		rec.LastModified = lastModified.Time
	}
	if lastSeen.Valid {
		rec.LastAccess = lastSeen.Time
	}
	return &rec, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (*files.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE key = $1`
	rec, err := scanFile(s.pg.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, files.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	return rec, nil
}

func (s *FileStore) List(ctx context.Context) ([]*files.FileRecord, error) {
	rows, err := s.pg.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*files.FileRecord, 0)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Put registers rec. On conflict only the registration columns change and
// the version is bumped; counters and heat are left to their writers.
func (s *FileStore) Put(ctx context.Context, rec *files.FileRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("file key is required")
	}
	query := `INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key) DO UPDATE SET
			size = EXCLUDED.size,
			sites = EXCLUDED.sites,
			last_modified = EXCLUDED.last_modified,
			encrypted = EXCLUDED.encrypted,
			version = files.version + 1`

	_, err := s.pg.db.ExecContext(ctx, query,
		rec.Key, rec.Size, pq.Array(rec.Sites), nullTime(rec.LastModified), nullTime(rec.LastAccess),
		rec.Access1h, rec.Access24h, rec.Heat, rec.PHot, rec.Encrypted, rec.Version)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func (s *FileStore) UpdateHeat(ctx context.Context, key string, heat, pHot float64) error {
	res, err := s.pg.db.ExecContext(ctx,
		`UPDATE files SET heat = $2, p_hot = $3 WHERE key = $1`, key, heat, pHot)
	if err != nil {
		return fmt.Errorf("update heat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, files.ErrNotFound)
	}
	return nil
}

// CommitPlacement locks the row, validates the expected slot and version,
// then writes the new replica list in the same transaction.
func (s *FileStore) CommitPlacement(ctx context.Context, c files.Commit) (*files.FileRecord, error) {
	tx, err := s.pg.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanFile(tx.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE key = $1 FOR UPDATE`, c.Key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", c.Key, files.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock file: %w", err)
	}

	next, err := files.ApplyCommit(rec, c)
	if err != nil {
		return nil, fmt.Errorf("commit %s slot %d: %w", c.Key, c.Slot, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET sites = $2, encrypted = $3, version = version + 1 WHERE key = $1`,
		c.Key, pq.Array(next.Sites), next.Encrypted); err != nil {
		return nil, fmt.Errorf("update placement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit placement: %w", err)
	}

	return next, nil
}

// Snapshot reads the access counters maintained by the ingestion side
func (s *FileStore) Snapshot(ctx context.Context, key string) (intelligence.AccessSnapshot, error) {
	var (
		snap                   intelligence.AccessSnapshot
		lastSeen, lastModified sql.NullTime
	)
	err := s.pg.db.QueryRowContext(ctx,
		`SELECT access_1h, access_24h, last_access, last_modified FROM files WHERE key = $1`, key,
	).Scan(&snap.Access1h, &snap.Access24h, &lastSeen, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%s: %w", key, files.ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("query access counters: %w", err)
	}
	snap.LastAccess = lastSeen.Time
	snap.LastModified = lastModified.Time
	return snap, nil
}
