package waterfall

// CashReserve is a reserve fund sized as a percentage of the outstanding
// pool balance and topped up from interest left after the notes are paid.
type CashReserve struct {
	Cash         []float64
	Reimbursed   []float64
	InterestRate float64
	TargetPct    float64
}

// NewCashReserve sizes a reserve for n periods funded with initial cash at
// closing.
func NewCashReserve(n int, interestRate, targetPct, initial float64) *CashReserve {
	r := &CashReserve{
		Cash:         make([]float64, n),
		Reimbursed:   make([]float64, n),
		InterestRate: interestRate,
		TargetPct:    targetPct,
	}
	if n > 0 {
		r.Cash[0] = initial
	}
	return r
}

// EarnInterest rolls the previous balance forward one period.
func (r *CashReserve) EarnInterest(ppy, t int) {
	r.Cash[t] = r.Cash[t-1] * (1 + r.InterestRate/float64(ppy))
}

// TargetShortfall is how far the balance at t sits below target.
func (r *CashReserve) TargetShortfall(t int, outstanding float64) float64 {
	return max(0, r.TargetPct*outstanding-r.Cash[t])
}

// Reimburse tops the reserve up from interest and returns what is left.
//
// The shortfall is measured against the balance after EarnInterest, but the
// new balance is the previous period's balance plus the top-up: it
// replaces the accrued value rather than adding to it.
func (r *CashReserve) Reimburse(t int, interest, outstanding float64) float64 {
	if outstanding <= 0 {
		return interest
	}
	amount := min(interest, r.TargetShortfall(t, outstanding))
	r.Cash[t] = r.Cash[t-1] + amount
	r.Reimbursed[t] = amount
	return interest - amount
}

// Use draws the reserve down to zero and returns the amount drawn.
func (r *CashReserve) Use(t int) float64 {
	amount := r.Cash[t]
	r.Cash[t] = 0
	return amount
}
