package waterfall

// Expense is a senior expense or servicing fee charged on the outstanding
// pool balance. Unpaid amounts carry forward as a shortfall that accrues
// at ShortfallRate.
type Expense struct {
	Rate          float64
	ShortfallRate float64
	Shortfall     float64
	Paid          []float64
}

// NewExpense sizes an expense for n periods.
func NewExpense(n int, rate, shortfallRate float64) *Expense {
	return &Expense{
		Rate:          rate,
		ShortfallRate: shortfallRate,
		Paid:          make([]float64, n),
	}
}

// Expected returns what is due this period: the running charge on the
// outstanding balance plus the carried shortfall with its accrual.
func (e *Expense) Expected(ppy int, outstanding float64) float64 {
	p := float64(ppy)
	return outstanding*(e.Rate/p) + e.Shortfall*(1+e.ShortfallRate/p)
}

// Pay settles period t's expense out of available and returns what is
// left. Once the pool has wound down (outstanding ≤ 0) the expense is
// waived and available passes through untouched.
func (e *Expense) Pay(ppy, t int, available, outstanding float64) float64 {
	if outstanding <= 0 {
		return available
	}

	due := e.Expected(ppy, outstanding)
	if available < due {
		e.Paid[t] = available
		e.Shortfall = due - available
		return 0
	}
	e.Paid[t] = due
	e.Shortfall = 0
	return available - due
}
