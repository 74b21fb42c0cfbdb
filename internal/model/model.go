// Package model defines the core domain types shared across the simulator.
// The simulation core works in float64; values that leave the process
// (stored runs, API responses) use shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one loan or bond in the collateral pool.
type Asset struct {
	ID           string    `json:"id" yaml:"id"`
	Issuer       string    `json:"issuer" yaml:"issuer"`
	Value        float64   `json:"value" yaml:"value"` // face value
	Maturity     time.Time `json:"maturity" yaml:"maturity"`
	Rating       string    `json:"rating" yaml:"rating"` // default-curve bucket
	DPMultiplier float64   `json:"dp_multiplier" yaml:"dp_multiplier"`
	Industry     string    `json:"industry" yaml:"industry"`
	Sector       string    `json:"sector" yaml:"sector"`
	Country      string    `json:"country" yaml:"country"`
	Region       string    `json:"region" yaml:"region"`
	Seniority    string    `json:"seniority" yaml:"seniority"`
	RRMultiplier float64   `json:"rr_multiplier" yaml:"rr_multiplier"`
	FixedRR      float64   `json:"fixed_rr" yaml:"fixed_rr"`
	Spread       float64   `json:"spread" yaml:"spread"`
}

// Run statuses.
const (
	RunPending   = "pending"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one Monte Carlo ensemble over a deal.
type Run struct {
	ID        string      `json:"id" db:"id"`
	DealName  string      `json:"deal_name" db:"deal_name"`
	Trials    int         `json:"trials" db:"trials"`
	Seed      int64       `json:"seed" db:"seed"`
	Status    string      `json:"status" db:"status"`
	Error     string      `json:"error,omitempty" db:"error"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// RunSummary aggregates trial results. Averages are taken over the trials
// that completed.
type RunSummary struct {
	Completed          int              `json:"completed"`
	Failed             int              `json:"failed"`
	MeanCumulativeLoss decimal.Decimal  `json:"mean_cumulative_loss"`
	MeanExcessSpread   decimal.Decimal  `json:"mean_excess_spread"`
	Tranches           []TrancheSummary `json:"tranches"`
	FailureReasons     map[string]int   `json:"failure_reasons,omitempty"`
}

// TrancheSummary holds per-note statistics across the ensemble.
type TrancheSummary struct {
	Name            string          `json:"name"`
	MeanPrice       decimal.Decimal `json:"mean_price"`      // % of initial balance
	MeanFlatPrice   decimal.Decimal `json:"mean_flat_price"` // discounted at the index rate only
	MeanWAL         decimal.Decimal `json:"mean_wal"`        // years
	ExpectedLoss    decimal.Decimal `json:"expected_loss"`   // mean final PDL / initial balance
	LossProbability decimal.Decimal `json:"loss_probability"`
}
