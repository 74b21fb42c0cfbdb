package waterfall

import "fmt"

// eps is the tolerance below which a cash amount or balance counts as zero.
const eps = 1e-9

// Tranche is one note class. Seniority is its position in the engine's
// tranche list.
type Tranche struct {
	Name    string
	Spread  float64
	ProRata bool

	Balances         []float64
	PaidInterest     []float64
	ExpectedInterest []float64
	Repayments       []float64
	Prepayments      []float64
	PDL              []float64
	Recoveries       []float64

	// Shortfall is interest due but unpaid, carried to the next period.
	Shortfall float64
}

// NewTranche sizes a tranche for n periods with an opening balance of
// size times the pool's initial balance.
func NewTranche(name string, n int, poolBalance, size, spread float64, proRata bool) *Tranche {
	tr := &Tranche{
		Name:             name,
		Spread:           spread,
		ProRata:          proRata,
		Balances:         make([]float64, n),
		PaidInterest:     make([]float64, n),
		ExpectedInterest: make([]float64, n),
		Repayments:       make([]float64, n),
		Prepayments:      make([]float64, n),
		PDL:              make([]float64, n),
		Recoveries:       make([]float64, n),
	}
	if n > 0 {
		tr.Balances[0] = poolBalance * size
	}
	return tr
}

// Rating is an extension point with no methodology behind it yet; the
// second result is always false.
func (tr *Tranche) Rating() (string, bool) { return "", false }

// expectedInterest is coupon on the previous balance grossed up by the
// carried shortfall, plus the shortfall itself.
func (tr *Tranche) expectedInterest(ppy, t int, indexRates []float64) float64 {
	rate := indexRates[t-1] + tr.Spread
	due := (tr.Balances[t-1]+tr.Shortfall)*(rate/float64(ppy)) + tr.Shortfall
	tr.ExpectedInterest[t] = due
	return due
}

// PayInterest pays period t's coupon out of available and returns the rest.
func (tr *Tranche) PayInterest(ppy, t int, available float64, indexRates []float64) float64 {
	due := tr.expectedInterest(ppy, t, indexRates)
	amount := min(available, due)
	tr.PaidInterest[t] = amount
	tr.Shortfall = max(due-amount, 0)
	return available - amount
}

// PayNotional repays principal out of cash and returns the rest. Cash left
// over while the tranche still carries a balance means the allocation lost
// track of money.
func (tr *Tranche) PayNotional(t int, cash float64) (float64, error) {
	prev := tr.Balances[t-1]
	amount := min(cash, prev)
	tr.Balances[t] = prev - amount
	tr.Repayments[t] = amount

	remaining := cash - amount
	if remaining > eps && tr.Balances[t] > eps {
		return remaining, fmt.Errorf("%w: tranche %s period %d: %g unconsumed with balance %g",
			ErrUnconsumedCash, tr.Name, t, remaining, tr.Balances[t])
	}
	return remaining, nil
}

// PayRecovery cures last period's PDL out of cash and returns the rest.
func (tr *Tranche) PayRecovery(t int, cash float64) float64 {
	amount := min(cash, tr.PDL[t-1])
	tr.PDL[t] = tr.PDL[t-1] - amount
	tr.Recoveries[t] = amount
	return cash - amount
}

// AccountPDL charges losses against the tranche's remaining capacity and
// returns the part it could not absorb.
func (tr *Tranche) AccountPDL(t int, losses float64) float64 {
	capacity := max(0, tr.Balances[t-1]-tr.PDL[t-1])
	absorbed := min(losses, capacity)
	tr.PDL[t] = tr.PDL[t-1] + absorbed
	return losses - absorbed
}

// Discounts returns one discount factor per period. Flat discounting uses
// the index rate alone; otherwise the tranche spread is added.
func (tr *Tranche) Discounts(ppy int, indexRates []float64, flat bool) []float64 {
	n := len(tr.Balances)
	d := make([]float64, n)
	if n == 0 {
		return d
	}
	d[0] = 1
	for t := 1; t < n; t++ {
		rate := indexRates[t-1]
		if !flat {
			rate += tr.Spread
		}
		d[t] = d[t-1] / (1 + rate/float64(ppy))
	}
	return d
}

// PriceValue is the discounted value of everything paid to the tranche,
// per 100 of opening balance.
func (tr *Tranche) PriceValue(ppy int, indexRates []float64, flat bool) float64 {
	b0 := tr.Balances[0]
	if b0 <= 0 {
		return 0
	}
	var pv float64
	for t, d := range tr.Discounts(ppy, indexRates, flat) {
		pv += d * (tr.PaidInterest[t] + tr.Repayments[t] + tr.Recoveries[t])
	}
	return pv / b0 * 100
}

// WAL is the weighted average life in years. Principal still outstanding
// at the horizon is weighted by residualYears, the year fraction from the
// start of the schedule to the legal maturity.
func (tr *Tranche) WAL(ppy int, residualYears float64) float64 {
	b0 := tr.Balances[0]
	if b0 <= 0 {
		return 0
	}
	var wal float64
	for t := range tr.Balances {
		wal += float64(t) * (tr.Repayments[t] + tr.Recoveries[t]) / float64(ppy)
	}
	wal += tr.Balances[len(tr.Balances)-1] * residualYears
	return wal / b0
}

// CumulativePDL is the ledger balance at the end of the horizon.
func (tr *Tranche) CumulativePDL() float64 {
	return tr.PDL[len(tr.PDL)-1]
}
