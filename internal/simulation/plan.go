// Package simulation runs Monte Carlo ensembles over a deal.
//
// Prepare turns a validated deal into an immutable Plan: the calendar,
// index and trigger paths, per-asset default probabilities and the
// correlation factor. A Plan is shared read-only by every trial; each
// trial builds its own pool, notes and accounts and draws from its own
// seeded source.
package simulation

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/correlation"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/period"
	"github.com/openrating/waterfall/internal/pool"
)

// Plan holds everything about a deal that does not change between trials.
type Plan struct {
	Deal           *config.Deal
	Dates          []time.Time
	PeriodsPerYear int
	IndexRates     []float64
	Triggers       []float64 // nil without pro-rata tranches
	InitialBalance float64
	ResidualYears  float64

	// Copula pools only.
	Assets        []model.Asset
	Probabilities [][]float64
	Factor        *mat.TriDense
}

// Periods is the number of periods, initial conditions included.
func (p *Plan) Periods() int { return len(p.Dates) }

// Prepare validates the deal and derives its Plan.
func Prepare(deal *config.Deal) (*Plan, error) {
	if err := deal.Validate(); err != nil {
		return nil, err
	}

	ppy, err := period.PeriodsPerYear(deal.Frequency)
	if err != nil {
		return nil, err
	}
	dates, err := period.Schedule(deal.StartDate.Time, deal.EndDate.Time, deal.Frequency)
	if err != nil {
		return nil, err
	}
	n := len(dates)
	if n < 2 {
		return nil, fmt.Errorf("%w: schedule from %s to %s has %d periods, need at least 2",
			model.ErrConfiguration, deal.StartDate.Format(time.DateOnly), deal.EndDate.Format(time.DateOnly), n)
	}

	p := &Plan{
		Deal:           deal,
		Dates:          dates,
		PeriodsPerYear: ppy,
		IndexRates:     indexPath(deal, n),
		InitialBalance: deal.InitialBalance(),
		ResidualYears:  period.YearFrac(deal.StartDate.Time, deal.EndDate.Time, deal.Basis),
	}

	if deal.HasProRata() {
		if p.Triggers, err = triggerPath(deal, n, p.InitialBalance); err != nil {
			return nil, err
		}
	}

	switch deal.Pool.Model {
	case config.PoolCopula:
		err = p.prepareCopula()
	case config.PoolAggregate:
		err = p.prepareAggregate()
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// indexPath extends or trims the configured path to n periods. A deal with
// no path uses its flat rate.
func indexPath(deal *config.Deal, n int) []float64 {
	out := make([]float64, n)
	if len(deal.IndexRates) == 0 {
		for t := range out {
			out[t] = deal.IndexRate
		}
		return out
	}
	for t := range out {
		out[t] = deal.IndexRates[min(t, len(deal.IndexRates)-1)]
	}
	return out
}

func triggerPath(deal *config.Deal, n int, balance float64) ([]float64, error) {
	if len(deal.ProRataTriggers) > 0 {
		if len(deal.ProRataTriggers) != n {
			return nil, fmt.Errorf("%w: %d pro-rata triggers for %d periods",
				model.ErrConfiguration, len(deal.ProRataTriggers), n)
		}
		return append([]float64(nil), deal.ProRataTriggers...), nil
	}
	out := make([]float64, n)
	for t := range out {
		out[t] = deal.ProRataTriggerPct * balance
	}
	return out, nil
}

func (p *Plan) prepareCopula() error {
	n := p.Periods()
	deal := p.Deal

	curves := make(map[string][]float64, len(deal.DefaultCurves))
	for rating, annual := range deal.DefaultCurves {
		curve, err := period.ConditionalProbabilities(annual, p.PeriodsPerYear, n)
		if err != nil {
			return fmt.Errorf("default curve %q: %w", rating, err)
		}
		curves[rating] = curve
	}

	p.Assets = deal.ModelAssets()
	probs, err := pool.AssetProbabilities(p.Assets, curves, n)
	if err != nil {
		return err
	}
	p.Probabilities = probs

	cls := make([]correlation.Classification, len(p.Assets))
	for i, a := range p.Assets {
		cls[i] = correlation.Of(a)
	}
	if p.Factor, err = deal.Correlation.Cholesky(cls); err != nil {
		return err
	}

	if am := deal.Amortization; am != nil {
		if len(am) != n {
			return fmt.Errorf("%w: amortization has %d rows for %d periods", model.ErrConfiguration, len(am), n)
		}
		for t, row := range am {
			if len(row) != len(p.Assets) {
				return fmt.Errorf("%w: amortization row %d has %d assets, deal has %d",
					model.ErrConfiguration, t, len(row), len(p.Assets))
			}
		}
	}
	return nil
}

func (p *Plan) prepareAggregate() error {
	need := p.Periods() - 1
	pl := p.Deal.Pool
	if len(pl.Timing) < need {
		return fmt.Errorf("%w: pool.timing has %d entries, need %d", model.ErrConfiguration, len(pl.Timing), need)
	}
	if len(pl.RepaymentRates) < need {
		return fmt.Errorf("%w: pool.repayment_rates has %d entries, need %d",
			model.ErrConfiguration, len(pl.RepaymentRates), need)
	}
	return nil
}
