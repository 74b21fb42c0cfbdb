package pool

import (
	"fmt"
	"time"

	"github.com/openrating/waterfall/internal/model"
)

// DefaultRecoveryStep is the lag, in periods, between a default and the
// posting of its recovery.
const DefaultRecoveryStep = 2

// CopulaPool projects an asset-level pool along one simulated default path.
type CopulaPool struct {
	*Ledger
	Assets       []model.Asset
	RecoveryStep int

	// Amortization, when set, is an [n][assets] matrix of outstanding
	// factors. It switches the projection to the amortizing variant.
	Amortization [][]float64
}

// NewCopulaPool sizes a pool for n periods. The opening balance is the
// face value of all assets and the opening spread their face-weighted
// spread.
func NewCopulaPool(assets []model.Asset, n, recoveryStep int) *CopulaPool {
	var balance, weighted float64
	for _, a := range assets {
		balance += a.Value
		weighted += a.Value * a.Spread
	}
	spread := 0.0
	if balance > 0 {
		spread = weighted / balance
	}
	p := &CopulaPool{
		Ledger:       NewLedger(n, balance, 0),
		Assets:       assets,
		RecoveryStep: recoveryStep,
	}
	if n > 0 {
		p.Spreads[0] = spread
	}
	return p
}

// assetState is one asset's classification in one period.
type assetState struct {
	performing bool // not in default this period
	newDefault bool // in default now, performing the period before
	matured    bool // maturity falls in (previous date, current date]
	open       bool // maturity after the current date
}

// classify is a pure function of the period, the calendar, the default
// path and the asset table.
func classify(t int, dates []time.Time, defaults DefaultMatrix, assets []model.Asset) []assetState {
	states := make([]assetState, len(assets))
	for a, asset := range assets {
		defaulted := defaults[t][a]
		states[a] = assetState{
			performing: !defaulted,
			newDefault: defaulted && !defaults[t-1][a],
			matured:    !asset.Maturity.After(dates[t]) && asset.Maturity.After(dates[t-1]),
			open:       asset.Maturity.After(dates[t]),
		}
	}
	return states
}

// periodRecord is the pool's output for a single period.
type periodRecord struct {
	balance   float64
	loss      float64
	spread    float64 // face-weighted, normalised by the opening balance
	recovery  float64 // posted RecoveryStep periods later
	repayment float64
}

// project aggregates one period from the classified assets. Period 1 also
// counts assets that matured before the first period end, so the opening
// balance is fully accounted for.
func (p *CopulaPool) project(t int, states []assetState) periodRecord {
	var rec periodRecord
	first := t == 1
	for a, s := range states {
		asset := p.Assets[a]
		f := p.factor(t-1, a)
		face := asset.Value * f
		live := s.matured || s.open

		if s.performing && (s.open || first) {
			rec.balance += face
		}
		if s.newDefault && (s.open || first) {
			rec.recovery += face * asset.RRMultiplier * asset.FixedRR
		}
		if s.performing && live {
			rec.spread += face * asset.Spread
		}
		if s.newDefault && live {
			rec.loss += face
		}
		if p.Amortization != nil {
			if s.performing {
				rec.repayment += asset.Value * (f - p.factor(t, a))
			}
		} else if s.performing && s.matured {
			rec.repayment += face
		}
	}
	if b0 := p.InitialBalance(); b0 > 0 {
		rec.spread /= b0
	} else {
		rec.spread = 0
	}
	return rec
}

func (p *CopulaPool) factor(t, a int) float64 {
	if p.Amortization == nil {
		return 1
	}
	return p.Amortization[t][a]
}

// CalculateCashFlows fills periods 1..n-1 from the default path and the
// index-rate path. dates, defaults and indexRates must each have one entry
// per period.
func (p *CopulaPool) CalculateCashFlows(dates []time.Time, defaults DefaultMatrix, indexRates []float64, ppy int) error {
	n := p.Len()
	if err := p.validate(dates, defaults, indexRates); err != nil {
		return err
	}

	for t := 1; t < n; t++ {
		rec := p.project(t, classify(t, dates, defaults, p.Assets))

		p.Balances[t] = rec.balance
		p.Losses[t] = rec.loss
		p.Spreads[t] = rec.spread
		p.Repayments[t] = rec.repayment
		if t+p.RecoveryStep < n {
			p.Recoveries[t+p.RecoveryStep] += rec.recovery
		}

		interest := p.Balances[t-1] * float64(ppy) * (indexRates[t-1] + p.Spreads[t-1])
		p.AvailableInterest[t] = max(0, interest)
	}
	return nil
}

func (p *CopulaPool) validate(dates []time.Time, defaults DefaultMatrix, indexRates []float64) error {
	n := p.Len()
	switch {
	case len(dates) != n:
		return fmt.Errorf("%w: %d period dates for %d periods", model.ErrConfiguration, len(dates), n)
	case len(defaults) != n:
		return fmt.Errorf("%w: default matrix has %d rows for %d periods", model.ErrConfiguration, len(defaults), n)
	case len(indexRates) < n:
		return fmt.Errorf("%w: %d index rates for %d periods", model.ErrConfiguration, len(indexRates), n)
	case p.RecoveryStep < 0:
		return fmt.Errorf("%w: negative recovery step", model.ErrConfiguration)
	}
	for t, row := range defaults {
		if len(row) != len(p.Assets) {
			return fmt.Errorf("%w: default matrix row %d has %d assets, pool has %d",
				model.ErrConfiguration, t, len(row), len(p.Assets))
		}
	}
	if p.Amortization != nil {
		if len(p.Amortization) != n {
			return fmt.Errorf("%w: amortization has %d rows for %d periods",
				model.ErrConfiguration, len(p.Amortization), n)
		}
		for t, row := range p.Amortization {
			if len(row) != len(p.Assets) {
				return fmt.Errorf("%w: amortization row %d has %d assets, pool has %d",
					model.ErrConfiguration, t, len(row), len(p.Assets))
			}
		}
	}
	return nil
}
