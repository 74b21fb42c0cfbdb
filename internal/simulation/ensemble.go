package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openrating/waterfall/internal/metrics"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/pool"
)

// ErrNoTrials is returned when an ensemble is asked for zero trials.
var ErrNoTrials = errors.New("simulation: trial count must be positive")

// Runner executes one trial from a random source. *Plan implements it.
type Runner interface {
	RunTrial(rng pool.Source) (*Trial, error)
}

// Ensemble runs independent trials in parallel.
type Ensemble struct {
	// Workers bounds the number of trials in flight; zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Outcome pairs a trial index with its result or error.
type Outcome struct {
	Index int
	Seed  int64
	Trial *Trial
	Err   error
}

// Run executes trials numbered 0..trials-1, seeding trial i with seed+i.
// A failing trial is recorded and does not stop its siblings, so the
// outcomes are the same whatever the worker count. Cancelling ctx stops
// scheduling new trials and Run returns the context error.
func (e Ensemble) Run(ctx context.Context, r Runner, trials int, seed int64) ([]Outcome, error) {
	if trials <= 0 {
		return nil, ErrNoTrials
	}
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	start := time.Now()
	outcomes := make([]Outcome, trials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < trials; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = runOne(r, i, seed+int64(i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	logger.Info("ensemble finished",
		"trials", trials,
		"failed", failed,
		"workers", workers,
		"elapsed", time.Since(start).String(),
	)
	return outcomes, nil
}

func runOne(r Runner, i int, seed int64) (o Outcome) {
	o = Outcome{Index: i, Seed: seed}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o.Trial = nil
			o.Err = fmt.Errorf("%w: trial panicked: %v", model.ErrInvariantViolation, p)
		}
		metrics.TrialDuration.Observe(time.Since(start).Seconds())
		switch {
		case o.Err == nil:
			metrics.TrialsTotal.WithLabelValues("completed").Inc()
		case errors.Is(o.Err, model.ErrInvariantViolation):
			metrics.InvariantViolations.Inc()
			metrics.TrialsTotal.WithLabelValues("failed").Inc()
		default:
			metrics.TrialsTotal.WithLabelValues("failed").Inc()
		}
	}()

	o.Trial, o.Err = r.RunTrial(rand.New(rand.NewSource(seed)))
	return o
}
