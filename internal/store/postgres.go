package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/openrating/waterfall/internal/model"
)

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Summaries are stored as JSONB; their decimals serialize as strings and
// round-trip exactly.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the runs table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			deal_name   TEXT NOT NULL,
			trials      INTEGER NOT NULL,
			seed        BIGINT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			summary     JSONB,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate runs: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *model.Run) error {
	summary, err := encodeSummary(r.Summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, deal_name, trials, seed, status, error, summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $9)`,
		r.ID, r.DealName, r.Trials, r.Seed, r.Status, r.Error, summary,
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, deal_name, trials, seed, status, error, summary::TEXT, created_at, updated_at
		 FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_name, trials, seed, status, error, summary::TEXT, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error {
	data, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, summary = $3::JSONB, error = '', updated_at = $4
		 WHERE id = $1`,
		id, model.RunCompleted, data, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, model.RunFailed, reason, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail run %s: %w", id, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// runRows reads a result set of runs.
type runRows interface {
	rowScanner
	Next() bool
	Err() error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var summary pgtype.Text
	if err := row.Scan(&r.ID, &r.DealName, &r.Trials, &r.Seed, &r.Status, &r.Error,
		&summary, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if summary.Valid {
		var err error
		if r.Summary, err = decodeSummary(summary.String); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanRuns(rows runRows) ([]model.Run, error) {
	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// encodeSummary returns nil for a nil summary so the column stays NULL.
func encodeSummary(s *model.RunSummary) (*string, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	out := string(data)
	return &out, nil
}

func decodeSummary(data string) (*model.RunSummary, error) {
	var s model.RunSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
