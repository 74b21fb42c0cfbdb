package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/pool"
)

const copulaDeal = `
name: test-clo
start_date: 2024-01-31
end_date: 2026-12-31
frequency: M
waterfall: separate
index_rate: 0.03
default_curves:
  BB: [0.0, 0.04, 0.08, 0.12]
  B: [0.0, 0.10, 0.20, 0.30]
correlation:
  base: 0.2
  regions: {EU: 0.1}
assets:
  - {id: a1, value: 400000, maturity: 2026-06-30, rating: BB, region: EU, fixed_rr: 0.45, spread: 0.035}
  - {id: a2, value: 350000, maturity: 2027-03-31, rating: B, region: US, fixed_rr: 0.3, spread: 0.05}
  - {id: a3, value: 250000, maturity: 2025-09-30, rating: BB, region: EU, fixed_rr: 0.4, spread: 0.04}
tranches:
  - {name: A, size: 0.7, spread: 0.012, prorata: true}
  - {name: B, size: 0.2, spread: 0.03, prorata: true}
  - {name: E, size: 0.1, spread: 0.08}
senior_expenses: {rate: 0.002}
servicing_fees: {rate: 0.004}
reserve: {target_pct: 0.02, initial: 20000, interest_rate: 0.01}
prorata_trigger_pct: 0.05
`

const aggregateDeal = `
name: test-abs
start_date: 2024-12-31
end_date: 2028-12-31
frequency: A
waterfall: combined
index_rate: 0.02
pool:
  model: aggregate
  opening_balance: 1000000
  spread: 0.04
  distribution: log_normal
  mu: -3
  sigma: 0.5
  timing: [0.4, 0.3, 0.2, 0.1]
  repayment_rates: [0.2, 0.25, 0.33, 0.5]
  recovery_rate: 0.4
  recovery_step: 1
tranches:
  - {name: A, size: 0.85, spread: 0.01}
  - {name: B, size: 0.15, spread: 0.04}
`

func plan(t *testing.T, doc string) *Plan {
	t.Helper()
	d, err := config.ParseDeal([]byte(doc))
	require.NoError(t, err)
	p, err := Prepare(d)
	require.NoError(t, err)
	return p
}

func TestPrepare_Copula(t *testing.T) {
	p := plan(t, copulaDeal)

	n := p.Periods()
	assert.Equal(t, 36, n) // Jan 2024 .. Dec 2026 month ends
	assert.Equal(t, 12, p.PeriodsPerYear)
	assert.Len(t, p.IndexRates, n)
	assert.InDelta(t, 1_000_000, p.InitialBalance, 1e-9)
	require.Len(t, p.Triggers, n)
	assert.InDelta(t, 50_000, p.Triggers[10], 1e-9)
	require.Len(t, p.Probabilities, n)
	assert.Len(t, p.Probabilities[0], 3)
	r, c := p.Factor.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.InDelta(t, 0.04, p.Probabilities[12][0], 1e-9, "one year in")
}

func TestPrepare_IndexPathPadded(t *testing.T) {
	d, err := config.ParseDeal([]byte(aggregateDeal))
	require.NoError(t, err)
	d.IndexRates = []float64{0.01, 0.02}

	p, err := Prepare(d)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.01, 0.02, 0.02, 0.02, 0.02}, p.IndexRates)
	assert.Nil(t, p.Triggers)
}

func TestPrepare_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *config.Deal)
	}{
		{"trigger path length", func(d *config.Deal) { d.ProRataTriggers = []float64{1, 2, 3} }},
		{"amortization rows", func(d *config.Deal) { d.Amortization = [][]float64{{1, 1, 1}} }},
		{"correlation not positive definite", func(d *config.Deal) { d.Correlation.Base = 0.95 }},
		{"invalid deal", func(d *config.Deal) { d.Waterfall = "turbo" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := config.ParseDeal([]byte(copulaDeal))
			require.NoError(t, err)
			tt.mutate(d)
			_, err = Prepare(d)
			assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)
		})
	}

	d, err := config.ParseDeal([]byte(aggregateDeal))
	require.NoError(t, err)
	d.Pool.Timing = d.Pool.Timing[:2]
	_, err = Prepare(d)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestRunTrial_Deterministic(t *testing.T) {
	for name, doc := range map[string]string{"copula": copulaDeal, "aggregate": aggregateDeal} {
		t.Run(name, func(t *testing.T) {
			p := plan(t, doc)

			first, err := p.RunTrial(rand.New(rand.NewSource(11)))
			require.NoError(t, err)
			second, err := p.RunTrial(rand.New(rand.NewSource(11)))
			require.NoError(t, err)

			assert.Equal(t, first, second)
			require.Len(t, first.Tranches, len(p.Deal.Tranches))
			assert.LessOrEqual(t, first.CumulativeLoss, p.InitialBalance)
			for _, tr := range first.Tranches {
				assert.GreaterOrEqual(t, tr.PDL, 0.0)
				assert.LessOrEqual(t, tr.PDL, tr.InitialBalance+1e-6)
				assert.Greater(t, tr.Price, 0.0)
			}
		})
	}
}

func TestEnsemble_ParallelMatchesSequential(t *testing.T) {
	p := plan(t, copulaDeal)
	ctx := context.Background()

	seq, err := Ensemble{Workers: 1}.Run(ctx, p, 40, 7)
	require.NoError(t, err)
	par, err := Ensemble{Workers: 8}.Run(ctx, p, 40, 7)
	require.NoError(t, err)

	require.Len(t, par, 40)
	for i := range seq {
		assert.Equal(t, seq[i].Seed, par[i].Seed)
		assert.Equal(t, seq[i].Trial, par[i].Trial, "trial %d", i)
	}

	a, b := Summarize(seq), Summarize(par)
	assert.Equal(t, 40, a.Completed)
	assert.Equal(t, a.MeanCumulativeLoss.String(), b.MeanCumulativeLoss.String())
	for i := range a.Tranches {
		assert.Equal(t, a.Tranches[i].MeanPrice.String(), b.Tranches[i].MeanPrice.String())
		assert.Equal(t, a.Tranches[i].ExpectedLoss.String(), b.Tranches[i].ExpectedLoss.String())
	}
}

func TestEnsemble_DifferentSeedsDiffer(t *testing.T) {
	p := plan(t, aggregateDeal)
	ctx := context.Background()

	a, err := Ensemble{Workers: 2}.Run(ctx, p, 5, 1)
	require.NoError(t, err)
	b, err := Ensemble{Workers: 2}.Run(ctx, p, 5, 1_000)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].Trial.CumulativeLoss, b[0].Trial.CumulativeLoss)
}

// flaky fails about half its trials, picked by the first draw.
type flaky struct{}

func (flaky) RunTrial(rng pool.Source) (*Trial, error) {
	if rng.Float64() < 0.5 {
		return nil, fmt.Errorf("%w: forced", model.ErrInvariantViolation)
	}
	return &Trial{CumulativeLoss: 10, Tranches: []TrancheResult{{Name: "A", InitialBalance: 100, Price: 99}}}, nil
}

type panicky struct{}

func (panicky) RunTrial(pool.Source) (*Trial, error) { panic("index out of range") }

func TestEnsemble_FailuresAreIsolated(t *testing.T) {
	out, err := Ensemble{Workers: 4}.Run(context.Background(), flaky{}, 50, 3)
	require.NoError(t, err)

	s := Summarize(out)
	assert.Equal(t, 50, s.Completed+s.Failed)
	assert.Greater(t, s.Completed, 0)
	assert.Greater(t, s.Failed, 0)
	assert.Equal(t, s.Failed, s.FailureReasons[ReasonInvariant])
	assert.Equal(t, "10", s.MeanCumulativeLoss.String())
	assert.Equal(t, "99", s.Tranches[0].MeanPrice.String())
}

func TestEnsemble_PanicBecomesFailure(t *testing.T) {
	out, err := Ensemble{Workers: 2}.Run(context.Background(), panicky{}, 3, 0)
	require.NoError(t, err)
	for _, o := range out {
		assert.True(t, errors.Is(o.Err, model.ErrInvariantViolation))
	}
}

func TestEnsemble_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Ensemble{Workers: 2}.Run(ctx, flaky{}, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsemble_NoTrials(t *testing.T) {
	_, err := Ensemble{}.Run(context.Background(), flaky{}, 0, 0)
	assert.ErrorIs(t, err, ErrNoTrials)
}

func TestSummarize(t *testing.T) {
	out := []Outcome{
		{Trial: &Trial{CumulativeLoss: 100, AverageExcessSpread: 2, Tranches: []TrancheResult{
			{Name: "A", InitialBalance: 1_000, Price: 101, FlatPrice: 102, WAL: 3, PDL: 0},
			{Name: "B", InitialBalance: 200, Price: 90, FlatPrice: 95, WAL: 4, PDL: 50},
		}}},
		{Trial: &Trial{CumulativeLoss: 300, AverageExcessSpread: 4, Tranches: []TrancheResult{
			{Name: "A", InitialBalance: 1_000, Price: 99, FlatPrice: 100, WAL: 5, PDL: 0},
			{Name: "B", InitialBalance: 200, Price: 80, FlatPrice: 85, WAL: 6, PDL: 0},
		}}},
		{Err: fmt.Errorf("%w: bad", model.ErrConfiguration)},
	}

	s := Summarize(out)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, map[string]int{ReasonConfiguration: 1}, s.FailureReasons)
	assert.Equal(t, "200", s.MeanCumulativeLoss.String())
	assert.Equal(t, "3", s.MeanExcessSpread.String())

	require.Len(t, s.Tranches, 2)
	assert.Equal(t, "100", s.Tranches[0].MeanPrice.String())
	assert.Equal(t, "4", s.Tranches[0].MeanWAL.String())
	assert.Equal(t, "0", s.Tranches[0].LossProbability.String())
	assert.Equal(t, "0.5", s.Tranches[1].LossProbability.String())
	assert.Equal(t, "0.125", s.Tranches[1].ExpectedLoss.String())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize([]Outcome{{Err: errors.New("boom")}})
	assert.Equal(t, 0, s.Completed)
	assert.True(t, s.MeanCumulativeLoss.IsZero())
	assert.Equal(t, 1, s.FailureReasons[ReasonOther])
}
