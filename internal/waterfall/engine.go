// Package waterfall runs the priority of payments for one simulation trial:
// expenses, tranche interest and principal, principal deficiency ledgers,
// the reserve fund and the excess-spread account.
//
// All entities are sized to the period count of the pool ledger they are
// attached to and mutated in place in strictly increasing period order.
// An Engine is single-use and not safe for concurrent use; parallelism
// belongs at the trial level.
//
// Amounts are float64. Conversion to decimal happens when an ensemble is
// summarized.
package waterfall

import (
	"errors"
	"fmt"

	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/pool"
)

// Mode is the sequencing rule for one period.
type Mode string

const (
	Combined Mode = "combined"
	Separate Mode = "separate"
	ProRata  Mode = "prorata"
)

var (
	ErrUnsupportedMode = fmt.Errorf("%w: unsupported waterfall mode", model.ErrConfiguration)
	ErrProRataBlock    = fmt.Errorf("%w: pro-rata tranches must form a contiguous senior-most block",
		model.ErrConfiguration)
	ErrUnconsumedCash = fmt.Errorf("%w: notional cash left with a partially repaid tranche",
		model.ErrInvariantViolation)
	ErrAlreadyRun = errors.New("waterfall: engine already run")
)

// Config wires one trial's entities together. Tranches are ordered most
// senior first.
type Config struct {
	Pool           *pool.Ledger
	Tranches       []*Tranche
	Reserve        *CashReserve
	Account        *CashAccount
	SeniorExpenses *Expense
	ServicingFees  *Expense

	IndexRates     []float64
	PeriodsPerYear int

	// Triggers holds, per period, the cumulative pool loss below which the
	// pro-rata tranches share principal. Required when any tranche is
	// pro-rata.
	Triggers []float64

	// Mode is the deal's fixed sequencing, Combined or Separate.
	Mode Mode
}

// Engine executes the waterfall over the whole horizon.
type Engine struct {
	cfg Config
	n   int
	ran bool

	// Modes records the sequencing actually used in each period.
	Modes []Mode
	// Interest and Notional record the cash collected in each period.
	Interest []float64
	Notional []float64
	// Unallocated is principal cash still left after every tranche has
	// been offered principal in SEPARATE and PRORATA periods.
	Unallocated []float64
}

// New validates cfg and returns an engine ready to Run.
func New(cfg Config) (*Engine, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	n := cfg.Pool.Len()
	return &Engine{
		cfg:         cfg,
		n:           n,
		Modes:       make([]Mode, n),
		Interest:    make([]float64, n),
		Notional:    make([]float64, n),
		Unallocated: make([]float64, n),
	}, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.Pool == nil || cfg.Reserve == nil || cfg.Account == nil ||
		cfg.SeniorExpenses == nil || cfg.ServicingFees == nil:
		return fmt.Errorf("%w: waterfall needs a pool, reserve, account and both expenses", model.ErrConfiguration)
	case len(cfg.Tranches) == 0:
		return fmt.Errorf("%w: no tranches", model.ErrConfiguration)
	case cfg.PeriodsPerYear <= 0:
		return fmt.Errorf("%w: periods per year must be positive, got %d", model.ErrConfiguration, cfg.PeriodsPerYear)
	case cfg.Mode != Combined && cfg.Mode != Separate:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}

	n := cfg.Pool.Len()
	if len(cfg.IndexRates) < n {
		return fmt.Errorf("%w: %d index rates for %d periods", model.ErrConfiguration, len(cfg.IndexRates), n)
	}
	sized := map[string]int{
		"reserve":         len(cfg.Reserve.Cash),
		"account":         len(cfg.Account.Cash),
		"senior expenses": len(cfg.SeniorExpenses.Paid),
		"servicing fees":  len(cfg.ServicingFees.Paid),
	}
	for i, tr := range cfg.Tranches {
		sized[fmt.Sprintf("tranche %d", i)] = len(tr.Balances)
	}
	for name, got := range sized {
		if got != n {
			return fmt.Errorf("%w: %s has %d periods, pool has %d", model.ErrConfiguration, name, got, n)
		}
	}

	if err := CheckProRata(cfg.Tranches); err != nil {
		return err
	}
	if hasProRata(cfg.Tranches) && len(cfg.Triggers) < n {
		return fmt.Errorf("%w: %d pro-rata triggers for %d periods", model.ErrConfiguration, len(cfg.Triggers), n)
	}
	return nil
}

// CheckProRata verifies the pro-rata tranches, if any, are the most senior
// ones with no sequential tranche in between.
func CheckProRata(tranches []*Tranche) error {
	block := true
	for i, tr := range tranches {
		if !tr.ProRata {
			block = false
			continue
		}
		if !block {
			return fmt.Errorf("%w: tranche %d (%s) follows a sequential tranche", ErrProRataBlock, i, tr.Name)
		}
	}
	return nil
}

func hasProRata(tranches []*Tranche) bool {
	for _, tr := range tranches {
		if tr.ProRata {
			return true
		}
	}
	return false
}

// Run executes periods 1..N-1 in order. Any error aborts the trial; the
// engine's arrays are then only partly filled.
func (e *Engine) Run() error {
	if e.ran {
		return ErrAlreadyRun
	}
	e.ran = true

	proRata := hasProRata(e.cfg.Tranches)
	for t := 1; t < e.n; t++ {
		mode := e.cfg.Mode
		if proRata && e.cfg.Pool.CumulativeLosses(t) < e.cfg.Triggers[t] {
			mode = ProRata
		}
		e.Modes[t] = mode

		var err error
		switch mode {
		case ProRata:
			err = e.proRata(t)
		case Separate:
			err = e.separate(t)
		default:
			err = e.combined(t)
		}
		if err != nil {
			return fmt.Errorf("period %d (%s): %w", t, mode, err)
		}
	}
	return nil
}

// collect runs the common preamble and returns the period's interest,
// notional and losses.
func (e *Engine) collect(t int) (interest, notional, losses float64) {
	c := e.cfg
	c.Reserve.EarnInterest(c.PeriodsPerYear, t)

	interest = c.Pool.AvailableInterest[t]
	notional = c.Pool.Repayments[t] + c.Pool.Recoveries[t] + c.Reserve.Cash[t-1] + c.Account.Cash[t-1]
	losses = c.Pool.Losses[t]

	e.Interest[t] = interest
	e.Notional[t] = notional
	return interest, notional, losses
}

// payExpenses pays senior expenses then servicing fees out of cash.
func (e *Engine) payExpenses(t int, cash float64) float64 {
	c := e.cfg
	outstanding := c.Pool.Balances[t]
	cash = c.SeniorExpenses.Pay(c.PeriodsPerYear, t, cash, outstanding)
	return c.ServicingFees.Pay(c.PeriodsPerYear, t, cash, outstanding)
}

// payInterest pays every tranche's coupon in seniority order.
func (e *Engine) payInterest(t int, cash float64) float64 {
	for _, tr := range e.cfg.Tranches {
		cash = tr.PayInterest(e.cfg.PeriodsPerYear, t, cash, e.cfg.IndexRates)
	}
	return cash
}

// payNotional repays the given tranches in order.
func (e *Engine) payNotional(t int, tranches []*Tranche, cash float64) (float64, error) {
	var err error
	for _, tr := range tranches {
		if cash, err = tr.PayNotional(t, cash); err != nil {
			return cash, err
		}
	}
	return cash, nil
}

// capture reimburses the reserve and deposits what is left as excess spread.
func (e *Engine) capture(t int, cash float64) {
	c := e.cfg
	cash = c.Reserve.Reimburse(t, cash, c.Pool.Balances[t])
	c.Account.AddCash(t, c.PeriodsPerYear, cash, c.Pool.Spreads[t], c.IndexRates)
}

// allocateLosses charges losses to the PDLs, most subordinate first.
func (e *Engine) allocateLosses(t int, losses float64) {
	tranches := e.cfg.Tranches
	for i := len(tranches) - 1; i >= 0; i-- {
		losses = tranches[i].AccountPDL(t, losses)
	}
}

// separate keeps interest and principal collections apart.
func (e *Engine) separate(t int) error {
	interest, notional, losses := e.collect(t)

	interest = e.payExpenses(t, interest)
	var err error
	for _, tr := range e.cfg.Tranches {
		interest = tr.PayInterest(e.cfg.PeriodsPerYear, t, interest, e.cfg.IndexRates)
		if notional, err = tr.PayNotional(t, notional); err != nil {
			return err
		}
	}
	e.Unallocated[t] = notional

	e.capture(t, interest)
	e.allocateLosses(t, losses)
	return nil
}

// combined pays everything out of a single pot. Whatever interest the
// notes did not consume offsets the period's losses before they reach the
// PDLs; interest paid out of principal adds to them.
func (e *Engine) combined(t int) error {
	interest, notional, losses := e.collect(t)

	total := e.payExpenses(t, interest+notional)
	total = e.payInterest(t, total)
	// Losses are floored at zero; surplus interest beyond them is not carried forward.
	losses = max(0, losses-(total-notional))

	total, err := e.payNotional(t, e.cfg.Tranches, total)
	if err != nil {
		return err
	}

	e.capture(t, total)
	e.allocateLosses(t, losses)
	return nil
}

// proRata shares principal across the senior pro-rata block in proportion
// to each tranche's opening share of the pool. What a pro-rata tranche
// cannot absorb rolls into the next one; after the block, remaining
// principal is paid sequentially.
func (e *Engine) proRata(t int) error {
	c := e.cfg
	interest, notional, losses := e.collect(t)

	interest = e.payExpenses(t, interest)
	interest = e.payInterest(t, interest)

	b0 := c.Pool.InitialBalance()
	var carry, consumed float64
	next := 0
	for ; next < len(c.Tranches) && c.Tranches[next].ProRata; next++ {
		tr := c.Tranches[next]
		share := carry
		if b0 > 0 {
			share += tr.Balances[0] / b0 * notional
		}
		left, err := tr.PayNotional(t, share)
		if err != nil {
			return err
		}
		consumed += share - left
		carry = left
	}

	rest, err := e.payNotional(t, c.Tranches[next:], max(0, notional-consumed))
	if err != nil {
		return err
	}
	e.Unallocated[t] = rest

	e.capture(t, interest)
	e.allocateLosses(t, losses)
	return nil
}
