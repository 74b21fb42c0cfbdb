// Package store defines the persistence interface for simulation runs.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), SQLite (single-node and CLI use), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/openrating/waterfall/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// Store is the persistence interface. A run is created pending and moves
// exactly once to completed or failed.
type Store interface {
	// CreateRun persists a new pending run.
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]model.Run, error)

	// CompleteRun attaches the ensemble summary and marks the run completed.
	CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error

	// FailRun records why the ensemble could not finish.
	FailRun(ctx context.Context, id string, reason string) error
}
