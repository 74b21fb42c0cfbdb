// Package pool projects the collateral pool period by period: performing
// balance, interest available to the waterfall, default losses, lagged
// recoveries and principal repayments.
//
// Two projections are provided. CopulaPool works asset by asset from a
// correlated default path (one Monte Carlo trial per path). AggregatePool
// draws a single pool-level default rate and times losses and repayments
// from externally supplied vectors.
//
// Every array is indexed by period; period 0 holds initial conditions and
// period t is computed only from inputs at periods ≤ t.
package pool

// Source is the random stream a trial draws from. *rand.Rand satisfies it;
// callers seed one per trial so ensembles are reproducible and trials can
// run in parallel.
type Source interface {
	Float64() float64
	NormFloat64() float64
}

// Ledger is the per-period state shared by both pool projections.
type Ledger struct {
	Balances          []float64
	AvailableInterest []float64
	Losses            []float64
	Recoveries        []float64
	Repayments        []float64
	Spreads           []float64
}

// NewLedger allocates zero-filled arrays for n periods with the opening
// balance in period 0 and every period's spread set to spread.
func NewLedger(n int, initialBalance, spread float64) *Ledger {
	l := &Ledger{
		Balances:          make([]float64, n),
		AvailableInterest: make([]float64, n),
		Losses:            make([]float64, n),
		Recoveries:        make([]float64, n),
		Repayments:        make([]float64, n),
		Spreads:           make([]float64, n),
	}
	if n > 0 {
		l.Balances[0] = initialBalance
	}
	for t := range l.Spreads {
		l.Spreads[t] = spread
	}
	return l
}

// Len returns the number of periods.
func (l *Ledger) Len() int { return len(l.Balances) }

// InitialBalance returns the period-0 balance.
func (l *Ledger) InitialBalance() float64 { return l.Balances[0] }

// CumulativeLosses returns losses summed over periods 0..t.
func (l *Ledger) CumulativeLosses(t int) float64 {
	var sum float64
	for _, v := range l.Losses[:t+1] {
		sum += v
	}
	return sum
}

// TotalLosses returns losses summed over the whole horizon.
func (l *Ledger) TotalLosses() float64 {
	return l.CumulativeLosses(len(l.Losses) - 1)
}
