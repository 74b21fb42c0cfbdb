package pool

import (
	"fmt"
	"math"

	"github.com/openrating/waterfall/internal/model"
)

// Distribution selects the law of the pool-level default rate.
type Distribution string

const (
	LogNormal       Distribution = "log_normal"
	InverseGaussian Distribution = "inverse_gaussian"
)

// DrawDefaultRate draws one pool-level default rate.
//
// For LogNormal, mu and sigma are the mean and standard deviation of the
// underlying normal. For InverseGaussian (Wald), mu is the mean and sigma
// the shape parameter λ.
func DrawDefaultRate(rng Source, dist Distribution, mu, sigma float64) (float64, error) {
	switch dist {
	case LogNormal:
		return math.Exp(mu + sigma*rng.NormFloat64()), nil
	case InverseGaussian:
		if mu <= 0 || sigma <= 0 {
			return 0, fmt.Errorf("%w: inverse gaussian needs positive mean and shape, got %g, %g",
				model.ErrConfiguration, mu, sigma)
		}
		return wald(rng, mu, sigma), nil
	default:
		return 0, fmt.Errorf("%w: unsupported default distribution %q", model.ErrConfiguration, dist)
	}
}

// wald samples an inverse Gaussian variate (Michael, Schucany & Haas).
func wald(rng Source, mu, lambda float64) float64 {
	z := rng.NormFloat64()
	y := z * z
	x := mu + mu*mu*y/(2*lambda) - mu/(2*lambda)*math.Sqrt(4*mu*lambda*y+mu*mu*y*y)
	if rng.Float64() <= mu/(mu+x) {
		return x
	}
	return mu * mu / x
}

// AggregateParams configures an AggregatePool.
type AggregateParams struct {
	OpeningBalance float64
	Spread         float64
	DefaultRate    float64   // lifetime loss as a fraction of the opening balance
	Timing         []float64 // share of lifetime loss hitting each period, indexed t-1
	RepaymentRates []float64 // share of performing balance repaid each period, indexed t-1
	RecoveryRate   float64
	RecoveryStep   int
}

// AggregatePool projects the pool without asset granularity.
type AggregatePool struct {
	*Ledger
	AggregateParams
}

// NewAggregatePool sizes an aggregate pool for n periods.
func NewAggregatePool(n int, params AggregateParams) *AggregatePool {
	return &AggregatePool{
		Ledger:          NewLedger(n, params.OpeningBalance, params.Spread),
		AggregateParams: params,
	}
}

// CalculateCashFlows fills periods 1..n-1. Each period the scheduled loss
// is taken from the outstanding balance first, then the repayment rate is
// applied to what still performs. Once the balance is exhausted nothing
// further happens.
func (p *AggregatePool) CalculateCashFlows(indexRates []float64, ppy int) error {
	n := p.Len()
	switch {
	case len(indexRates) < n:
		return fmt.Errorf("%w: %d index rates for %d periods", model.ErrConfiguration, len(indexRates), n)
	case len(p.Timing) < n-1:
		return fmt.Errorf("%w: timing vector has %d entries, need %d", model.ErrConfiguration, len(p.Timing), n-1)
	case len(p.RepaymentRates) < n-1:
		return fmt.Errorf("%w: repayment vector has %d entries, need %d",
			model.ErrConfiguration, len(p.RepaymentRates), n-1)
	case p.RecoveryStep < 0:
		return fmt.Errorf("%w: negative recovery step", model.ErrConfiguration)
	}

	b0 := p.InitialBalance()
	for t := 1; t < n; t++ {
		prev := p.Balances[t-1]
		if prev <= 0 {
			continue
		}

		loss := min(prev, max(0, b0*p.DefaultRate*p.Timing[t-1]))
		performing := prev - loss
		repayment := performing * min(1, max(0, p.RepaymentRates[t-1]))

		p.Losses[t] = loss
		p.Repayments[t] = repayment
		p.Balances[t] = performing - repayment
		p.AvailableInterest[t] = max(0, performing*(indexRates[t-1]+p.Spreads[t-1])/float64(ppy))

		if t+p.RecoveryStep < n {
			p.Recoveries[t+p.RecoveryStep] += loss * p.RecoveryRate
		}
	}
	return nil
}
