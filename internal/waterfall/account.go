package waterfall

// CashAccount captures excess spread. Its running value compounds at the
// index rate plus the pool spread; Cash[t] mirrors the value after the
// last mutation in period t.
type CashAccount struct {
	Value        float64
	Cash         []float64
	ExcessSpread []float64
}

func NewCashAccount(n int) *CashAccount {
	return &CashAccount{
		Cash:         make([]float64, n),
		ExcessSpread: make([]float64, n),
	}
}

// AddCash accrues one period on the running value and deposits amount.
func (a *CashAccount) AddCash(t, ppy int, amount, spread float64, indexRates []float64) {
	a.Value *= 1 + (indexRates[t-1]+spread)/float64(ppy)
	a.Value += amount
	a.ExcessSpread[t] = amount
	a.Cash[t] = a.Value
}

// PayCash withdraws amount from the account.
func (a *CashAccount) PayCash(amount float64, t int) {
	a.Value -= amount
	a.Cash[t] = a.Value
}

// Use empties period t's available cash and returns it.
func (a *CashAccount) Use(t int) float64 {
	amount := a.Cash[t]
	a.Value -= amount
	a.Cash[t] = 0
	return amount
}

// AverageExcessSpread is the mean deposit across all periods, period 0
// included.
func (a *CashAccount) AverageExcessSpread() float64 {
	if len(a.ExcessSpread) == 0 {
		return 0
	}
	var sum float64
	for _, v := range a.ExcessSpread {
		sum += v
	}
	return sum / float64(len(a.ExcessSpread))
}
