package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openrating/waterfall/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. Timestamps are kept
// as Unix nanoseconds and summaries as JSON text.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

// NewSQLiteStore opens (or creates) the database at path and runs
// migrations. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			deal_name   TEXT NOT NULL,
			trials      INTEGER NOT NULL,
			seed        INTEGER NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			summary     TEXT,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	summary, err := encodeSummary(r.Summary)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, deal_name, trials, seed, status, error, summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DealName, r.Trials, r.Seed, r.Status, r.Error, summary,
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deal_name, trials, seed, status, error, summary, created_at, updated_at
		 FROM runs WHERE id = ?`, id)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_name, trials, seed, status, error, summary, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error {
	data, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	return s.update(ctx, id,
		`UPDATE runs SET status = ?, summary = ?, error = '', updated_at = ? WHERE id = ?`,
		model.RunCompleted, data, time.Now().UTC().UnixNano(), id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, reason string) error {
	return s.update(ctx, id,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		model.RunFailed, reason, time.Now().UTC().UnixNano(), id)
}

func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSQLiteRun(row rowScanner) (*model.Run, error) {
	var (
		r                model.Run
		summary          sql.NullString
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.DealName, &r.Trials, &r.Seed, &r.Status, &r.Error,
		&summary, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	if summary.Valid {
		var err error
		if r.Summary, err = decodeSummary(summary.String); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
