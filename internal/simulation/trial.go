package simulation

import (
	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/pool"
	"github.com/openrating/waterfall/internal/waterfall"
)

// Trial is the outcome of one simulated path.
type Trial struct {
	CumulativeLoss      float64
	AverageExcessSpread float64
	Unallocated         float64
	Tranches            []TrancheResult
}

// TrancheResult is one note's valuation on one path.
type TrancheResult struct {
	Name           string
	InitialBalance float64
	Price          float64
	FlatPrice      float64
	WAL            float64
	PDL            float64 // ledger balance at the horizon
}

// RunTrial draws one default path from rng, projects the pool and runs the
// waterfall over it. Nothing in p is mutated.
func (p *Plan) RunTrial(rng pool.Source) (*Trial, error) {
	n := p.Periods()
	deal := p.Deal

	ledger, err := p.project(rng)
	if err != nil {
		return nil, err
	}

	notes := make([]*waterfall.Tranche, len(deal.Tranches))
	for i, tr := range deal.Tranches {
		notes[i] = waterfall.NewTranche(tr.Name, n, p.InitialBalance, tr.Size, tr.Spread, tr.ProRata)
	}
	account := waterfall.NewCashAccount(n)

	engine, err := waterfall.New(waterfall.Config{
		Pool:           ledger,
		Tranches:       notes,
		Reserve:        waterfall.NewCashReserve(n, deal.Reserve.InterestRate, deal.Reserve.TargetPct, deal.Reserve.Initial),
		Account:        account,
		SeniorExpenses: waterfall.NewExpense(n, deal.SeniorExpenses.Rate, deal.SeniorExpenses.ShortfallRate),
		ServicingFees:  waterfall.NewExpense(n, deal.ServicingFees.Rate, deal.ServicingFees.ShortfallRate),
		IndexRates:     p.IndexRates,
		PeriodsPerYear: p.PeriodsPerYear,
		Triggers:       p.Triggers,
		Mode:           deal.Waterfall,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.Run(); err != nil {
		return nil, err
	}

	trial := &Trial{
		CumulativeLoss:      ledger.TotalLosses(),
		AverageExcessSpread: account.AverageExcessSpread(),
		Tranches:            make([]TrancheResult, len(notes)),
	}
	for _, u := range engine.Unallocated {
		trial.Unallocated += u
	}
	for i, tr := range notes {
		trial.Tranches[i] = TrancheResult{
			Name:           tr.Name,
			InitialBalance: tr.Balances[0],
			Price:          tr.PriceValue(p.PeriodsPerYear, p.IndexRates, false),
			FlatPrice:      tr.PriceValue(p.PeriodsPerYear, p.IndexRates, true),
			WAL:            tr.WAL(p.PeriodsPerYear, p.ResidualYears),
			PDL:            tr.CumulativePDL(),
		}
	}
	return trial, nil
}

// project builds and fills the pool ledger for one path.
func (p *Plan) project(rng pool.Source) (*pool.Ledger, error) {
	n := p.Periods()
	deal := p.Deal

	if deal.Pool.Model == config.PoolAggregate {
		pl := deal.Pool
		rate, err := pool.DrawDefaultRate(rng, pl.Distribution, pl.Mu, pl.Sigma)
		if err != nil {
			return nil, err
		}
		ap := pool.NewAggregatePool(n, pool.AggregateParams{
			OpeningBalance: pl.OpeningBalance,
			Spread:         pl.Spread,
			DefaultRate:    rate,
			Timing:         pl.Timing,
			RepaymentRates: pl.RepaymentRates,
			RecoveryRate:   pl.RecoveryRate,
			RecoveryStep:   deal.RecoveryStep(),
		})
		if err := ap.CalculateCashFlows(p.IndexRates, p.PeriodsPerYear); err != nil {
			return nil, err
		}
		return ap.Ledger, nil
	}

	defaults := pool.DrawDefaults(rng, p.Factor, p.Probabilities)
	cp := pool.NewCopulaPool(p.Assets, n, deal.RecoveryStep())
	cp.Amortization = deal.Amortization
	if err := cp.CalculateCashFlows(p.Dates, defaults, p.IndexRates, p.PeriodsPerYear); err != nil {
		return nil, err
	}
	return cp.Ledger, nil
}
