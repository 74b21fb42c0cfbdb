// Package config loads deal definitions and server settings.
//
// A deal is a single YAML document (JSON is accepted too, being a subset).
// Defaults are filled in by ParseDeal, so a parsed Deal is ready for
// Validate and for the simulation planner.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openrating/waterfall/internal/correlation"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/period"
	"github.com/openrating/waterfall/internal/pool"
	"github.com/openrating/waterfall/internal/waterfall"
)

// Pool models.
const (
	PoolCopula    = "copula"
	PoolAggregate = "aggregate"
)

// Date is a calendar day written as 2006-01-02.
type Date struct {
	time.Time
}

// UnmarshalYAML accepts a plain date or a full RFC 3339 timestamp, quoted
// or not.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	v := strings.TrimSpace(node.Value)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q at line %d", node.Value, node.Line)
}

// MarshalYAML writes the date back as 2006-01-02.
func (d Date) MarshalYAML() (any, error) {
	return d.Format(time.DateOnly), nil
}

// Asset is an asset row as written in a deal file.
type Asset struct {
	ID           string  `yaml:"id"`
	Issuer       string  `yaml:"issuer"`
	Value        float64 `yaml:"value"`
	Maturity     Date    `yaml:"maturity"`
	Rating       string  `yaml:"rating"`
	DPMultiplier float64 `yaml:"dp_multiplier"`
	Industry     string  `yaml:"industry"`
	Sector       string  `yaml:"sector"`
	Country      string  `yaml:"country"`
	Region       string  `yaml:"region"`
	Seniority    string  `yaml:"seniority"`
	RRMultiplier float64 `yaml:"rr_multiplier"`
	FixedRR      float64 `yaml:"fixed_rr"`
	Spread       float64 `yaml:"spread"`
}

// Model converts the row to the simulator's asset record.
func (a Asset) Model() model.Asset {
	return model.Asset{
		ID:           a.ID,
		Issuer:       a.Issuer,
		Value:        a.Value,
		Maturity:     a.Maturity.Time,
		Rating:       a.Rating,
		DPMultiplier: a.DPMultiplier,
		Industry:     a.Industry,
		Sector:       a.Sector,
		Country:      a.Country,
		Region:       a.Region,
		Seniority:    a.Seniority,
		RRMultiplier: a.RRMultiplier,
		FixedRR:      a.FixedRR,
		Spread:       a.Spread,
	}
}

type Tranche struct {
	Name    string  `yaml:"name"`
	Size    float64 `yaml:"size"` // fraction of the initial pool balance
	Spread  float64 `yaml:"spread"`
	ProRata bool    `yaml:"prorata"`
}

type Expense struct {
	Rate          float64 `yaml:"rate"`
	ShortfallRate float64 `yaml:"shortfall_rate"`
}

type Reserve struct {
	TargetPct    float64 `yaml:"target_pct"`
	Initial      float64 `yaml:"initial"`
	InterestRate float64 `yaml:"interest_rate"`
}

// Pool selects and parameterises the pool projection.
type Pool struct {
	Model        string `yaml:"model"`
	RecoveryStep *int   `yaml:"recovery_step"`

	// Aggregate model only.
	OpeningBalance float64           `yaml:"opening_balance"`
	Spread         float64           `yaml:"spread"`
	Distribution   pool.Distribution `yaml:"distribution"`
	Mu             float64           `yaml:"mu"`
	Sigma          float64           `yaml:"sigma"`
	Timing         []float64         `yaml:"timing"`
	RepaymentRates []float64         `yaml:"repayment_rates"`
	RecoveryRate   float64           `yaml:"recovery_rate"`
}

// Deal is everything needed to simulate one transaction.
type Deal struct {
	Name      string           `yaml:"name"`
	StartDate Date             `yaml:"start_date"`
	EndDate   Date             `yaml:"end_date"`
	Frequency period.Frequency `yaml:"frequency"`
	Basis     int              `yaml:"basis"`
	Waterfall waterfall.Mode   `yaml:"waterfall"`

	// IndexRates is the index path, one value per period; shorter paths
	// are extended with their last value. IndexRate is a flat alternative.
	IndexRates []float64 `yaml:"index_rates"`
	IndexRate  float64   `yaml:"index_rate"`

	Pool Pool `yaml:"pool"`

	// DefaultCurves maps a rating bucket to its cumulative default
	// probability at whole years 0, 1, 2, ...
	DefaultCurves map[string][]float64 `yaml:"default_curves"`
	Correlation   correlation.Table    `yaml:"correlation"`
	Assets        []Asset              `yaml:"assets"`
	// Amortization is an optional [period][asset] matrix of outstanding
	// factors.
	Amortization [][]float64 `yaml:"amortization"`

	Tranches       []Tranche `yaml:"tranches"`
	SeniorExpenses Expense   `yaml:"senior_expenses"`
	ServicingFees  Expense   `yaml:"servicing_fees"`
	Reserve        Reserve   `yaml:"reserve"`

	// ProRataTriggers is the per-period cumulative loss threshold.
	// ProRataTriggerPct is a flat alternative expressed as a fraction of
	// the initial pool balance.
	ProRataTriggers   []float64 `yaml:"prorata_triggers"`
	ProRataTriggerPct float64   `yaml:"prorata_trigger_pct"`
}

// LoadDeal reads and parses a deal file.
func LoadDeal(path string) (*Deal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deal: %w", err)
	}
	return ParseDeal(data)
}

// ParseDeal decodes a deal document and applies defaults. It does not
// validate.
func ParseDeal(data []byte) (*Deal, error) {
	d := &Deal{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("%w: parse deal: %v", model.ErrConfiguration, err)
	}
	d.applyDefaults()
	return d, nil
}

func (d *Deal) applyDefaults() {
	if d.Frequency == "" {
		d.Frequency = period.Monthly
	}
	if d.Basis == 0 {
		d.Basis = period.BasisActual365
	}
	if d.Waterfall == "" {
		d.Waterfall = waterfall.Combined
	}
	if d.Pool.Model == "" {
		d.Pool.Model = PoolCopula
	}
	if d.Pool.RecoveryStep == nil {
		step := pool.DefaultRecoveryStep
		d.Pool.RecoveryStep = &step
	}
	if d.Pool.Distribution == "" {
		d.Pool.Distribution = pool.LogNormal
	}
	for i := range d.Assets {
		if d.Assets[i].DPMultiplier == 0 {
			d.Assets[i].DPMultiplier = 1
		}
		if d.Assets[i].RRMultiplier == 0 {
			d.Assets[i].RRMultiplier = 1
		}
	}
}

// Validate checks the deal is internally consistent. Checks that need the
// period count (array lengths) happen when the run is planned.
func (d *Deal) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", model.ErrConfiguration)
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", model.ErrConfiguration)
	}
	if !d.EndDate.After(d.StartDate.Time) {
		return fmt.Errorf("%w: end_date must be after start_date", model.ErrConfiguration)
	}
	if _, err := period.PeriodsPerYear(d.Frequency); err != nil {
		return err
	}
	if d.Waterfall != waterfall.Combined && d.Waterfall != waterfall.Separate {
		return fmt.Errorf("%w: %q", waterfall.ErrUnsupportedMode, d.Waterfall)
	}
	if len(d.Tranches) == 0 {
		return fmt.Errorf("%w: at least one tranche is required", model.ErrConfiguration)
	}
	if err := d.validateTranches(); err != nil {
		return err
	}
	if d.RecoveryStep() < 0 {
		return fmt.Errorf("%w: pool.recovery_step must not be negative", model.ErrConfiguration)
	}

	switch d.Pool.Model {
	case PoolCopula:
		return d.validateCopula()
	case PoolAggregate:
		return d.validateAggregate()
	default:
		return fmt.Errorf("%w: unsupported pool model %q", model.ErrConfiguration, d.Pool.Model)
	}
}

func (d *Deal) validateTranches() error {
	var total float64
	seen := make(map[string]bool, len(d.Tranches))
	notes := make([]*waterfall.Tranche, len(d.Tranches))
	for i, tr := range d.Tranches {
		if tr.Name == "" {
			return fmt.Errorf("%w: tranche %d has no name", model.ErrConfiguration, i)
		}
		if seen[tr.Name] {
			return fmt.Errorf("%w: duplicate tranche %q", model.ErrConfiguration, tr.Name)
		}
		seen[tr.Name] = true
		if tr.Size < 0 {
			return fmt.Errorf("%w: tranche %q has negative size", model.ErrConfiguration, tr.Name)
		}
		total += tr.Size
		notes[i] = &waterfall.Tranche{Name: tr.Name, ProRata: tr.ProRata}
	}
	if total > 1+1e-9 {
		return fmt.Errorf("%w: tranche sizes sum to %g, above 1", model.ErrConfiguration, total)
	}
	return waterfall.CheckProRata(notes)
}

func (d *Deal) validateCopula() error {
	if len(d.Assets) == 0 {
		return fmt.Errorf("%w: copula pool needs assets", model.ErrConfiguration)
	}
	ids := make(map[string]bool, len(d.Assets))
	for _, a := range d.Assets {
		if a.ID == "" {
			return fmt.Errorf("%w: asset without id", model.ErrConfiguration)
		}
		if ids[a.ID] {
			return fmt.Errorf("%w: duplicate asset %q", model.ErrConfiguration, a.ID)
		}
		ids[a.ID] = true
		if a.Value <= 0 {
			return fmt.Errorf("%w: asset %q must have a positive value", model.ErrConfiguration, a.ID)
		}
		if a.Maturity.IsZero() {
			return fmt.Errorf("%w: asset %q has no maturity", model.ErrConfiguration, a.ID)
		}
		if _, ok := d.DefaultCurves[a.Rating]; !ok {
			return fmt.Errorf("%w: asset %q rating %q has no default curve", model.ErrConfiguration, a.ID, a.Rating)
		}
	}
	return nil
}

func (d *Deal) validateAggregate() error {
	p := d.Pool
	switch {
	case p.OpeningBalance <= 0:
		return fmt.Errorf("%w: pool.opening_balance must be positive", model.ErrConfiguration)
	case p.Distribution != pool.LogNormal && p.Distribution != pool.InverseGaussian:
		return fmt.Errorf("%w: unsupported default distribution %q", model.ErrConfiguration, p.Distribution)
	case p.RecoveryRate < 0 || p.RecoveryRate > 1:
		return fmt.Errorf("%w: pool.recovery_rate must be in [0, 1]", model.ErrConfiguration)
	}
	return nil
}

// ModelAssets returns the asset table in simulator form.
func (d *Deal) ModelAssets() []model.Asset {
	out := make([]model.Asset, len(d.Assets))
	for i, a := range d.Assets {
		out[i] = a.Model()
	}
	return out
}

// InitialBalance is the pool balance at closing.
func (d *Deal) InitialBalance() float64 {
	if d.Pool.Model == PoolAggregate {
		return d.Pool.OpeningBalance
	}
	var sum float64
	for _, a := range d.Assets {
		sum += a.Value
	}
	return sum
}

// RecoveryStep returns the configured recovery lag.
func (d *Deal) RecoveryStep() int {
	if d.Pool.RecoveryStep == nil {
		return pool.DefaultRecoveryStep
	}
	return *d.Pool.RecoveryStep
}

// HasProRata reports whether any tranche is pro-rata eligible.
func (d *Deal) HasProRata() bool {
	for _, tr := range d.Tranches {
		if tr.ProRata {
			return true
		}
	}
	return false
}
