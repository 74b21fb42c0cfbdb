package pool

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/openrating/waterfall/internal/model"
)

const tol = 1e-9

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// monthEnds for Jan..Jun 2024.
func monthEnds() []time.Time {
	return []time.Time{
		date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 31),
		date(2024, 4, 30), date(2024, 5, 31), date(2024, 6, 30),
	}
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// defaultsFrom builds a path where asset a is in default from period from[a]
// onwards; 0 means never.
func defaultsFrom(n int, from []int) DefaultMatrix {
	m := make(DefaultMatrix, n)
	for t := range m {
		m[t] = make([]bool, len(from))
		for a, f := range from {
			m[t][a] = f > 0 && t >= f
		}
	}
	return m
}

func threeAssets() []model.Asset {
	return []model.Asset{
		{ID: "A", Value: 100, Maturity: date(2024, 4, 15), Spread: 0.02, RRMultiplier: 1, FixedRR: 0.5},
		{ID: "B", Value: 200, Maturity: date(2030, 1, 1), Spread: 0.03, RRMultiplier: 1, FixedRR: 0.5},
		{ID: "C", Value: 300, Maturity: date(2030, 1, 1), Spread: 0.01, RRMultiplier: 1, FixedRR: 0.4},
	}
}

func TestNewCopulaPool_OpeningState(t *testing.T) {
	p := NewCopulaPool(threeAssets(), 6, DefaultRecoveryStep)

	assert.InDelta(t, 600, p.InitialBalance(), tol)
	assert.InDelta(t, 11.0/600, p.Spreads[0], tol)
	assert.Equal(t, 6, p.Len())
}

func TestCopulaPool_CalculateCashFlows(t *testing.T) {
	dates := monthEnds()
	p := NewCopulaPool(threeAssets(), len(dates), 2)
	defaults := defaultsFrom(len(dates), []int{0, 0, 2})

	require.NoError(t, p.CalculateCashFlows(dates, defaults, flat(6, 0.01), 12))

	// Balances: C defaults in period 2, A matures in period 3.
	assert.InDeltaSlice(t, []float64{600, 600, 300, 200, 200, 200}, p.Balances, tol)
	assert.InDeltaSlice(t, []float64{0, 0, 300, 0, 0, 0}, p.Losses, tol)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 100, 0, 0}, p.Repayments, tol)
	// C's recovery (300 * 0.4) lands two periods after its default.
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0, 120, 0}, p.Recoveries, tol)

	assert.InDelta(t, 11.0/600, p.Spreads[1], tol)
	assert.InDelta(t, 8.0/600, p.Spreads[2], tol)
	assert.InDelta(t, 8.0/600, p.Spreads[3], tol) // A still earns in its maturity period
	assert.InDelta(t, 6.0/600, p.Spreads[4], tol)

	assert.InDelta(t, 600*12*(0.01+11.0/600), p.AvailableInterest[1], tol)
	assert.InDelta(t, 300*12*(0.01+8.0/600), p.AvailableInterest[3], tol)
	assert.Equal(t, 0.0, p.AvailableInterest[0])
}

func TestCopulaPool_RecoveryBeyondHorizonDropped(t *testing.T) {
	dates := monthEnds()
	p := NewCopulaPool(threeAssets(), len(dates), 2)
	defaults := defaultsFrom(len(dates), []int{0, 0, 4})

	require.NoError(t, p.CalculateCashFlows(dates, defaults, flat(6, 0), 12))

	assert.InDelta(t, 300, p.Losses[4], tol)
	for tt, r := range p.Recoveries {
		assert.Equal(t, 0.0, r, "no recovery should post inside the horizon (period %d)", tt)
	}
}

func TestCopulaPool_FirstPeriodIncludesPreHorizonMaturities(t *testing.T) {
	assets := []model.Asset{
		{ID: "old", Value: 50, Maturity: date(2023, 6, 30)},
		{ID: "new", Value: 150, Maturity: date(2030, 1, 1)},
	}
	dates := monthEnds()
	p := NewCopulaPool(assets, len(dates), 2)

	require.NoError(t, p.CalculateCashFlows(dates, defaultsFrom(6, []int{0, 0}), flat(6, 0), 12))

	assert.InDelta(t, 200, p.Balances[1], tol, "period 1 counts every performing asset")
	assert.InDelta(t, 150, p.Balances[2], tol, "later periods only count open assets")
}

func TestCopulaPool_Amortizing(t *testing.T) {
	assets := []model.Asset{{ID: "A", Value: 100, Maturity: date(2030, 1, 1), Spread: 0.02}}
	dates := monthEnds()[:4]
	p := NewCopulaPool(assets, 4, 2)
	p.Amortization = [][]float64{{1}, {0.8}, {0.5}, {0.5}}

	require.NoError(t, p.CalculateCashFlows(dates, defaultsFrom(4, []int{0}), flat(4, 0), 12))

	assert.InDeltaSlice(t, []float64{100, 100, 80, 50}, p.Balances, tol)
	assert.InDeltaSlice(t, []float64{0, 20, 30, 0}, p.Repayments, tol)
	assert.InDelta(t, 100*0.02*0.8/100, p.Spreads[2], tol)
}

func TestCopulaPool_AmortizingLossScaled(t *testing.T) {
	assets := []model.Asset{{ID: "A", Value: 100, Maturity: date(2030, 1, 1), RRMultiplier: 1, FixedRR: 0.5}}
	dates := monthEnds()
	p := NewCopulaPool(assets, 6, 1)
	p.Amortization = [][]float64{{1}, {0.9}, {0.8}, {0.7}, {0.6}, {0.5}}

	require.NoError(t, p.CalculateCashFlows(dates, defaultsFrom(6, []int{3}), flat(6, 0), 12))

	assert.InDelta(t, 80, p.Losses[3], tol)
	assert.InDelta(t, 40, p.Recoveries[4], tol)
}

func TestCopulaPool_ValidationErrors(t *testing.T) {
	dates := monthEnds()
	p := NewCopulaPool(threeAssets(), len(dates), 2)

	tests := []struct {
		name     string
		dates    []time.Time
		defaults DefaultMatrix
		rates    []float64
	}{
		{"short dates", dates[:3], defaultsFrom(6, []int{0, 0, 0}), flat(6, 0)},
		{"short defaults", dates, defaultsFrom(3, []int{0, 0, 0}), flat(6, 0)},
		{"wrong asset count", dates, defaultsFrom(6, []int{0, 0}), flat(6, 0)},
		{"short index rates", dates, defaultsFrom(6, []int{0, 0, 0}), flat(2, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CalculateCashFlows(tt.dates, tt.defaults, tt.rates, 12)
			assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)
		})
	}
}

func TestCopulaPool_Causality(t *testing.T) {
	dates := monthEnds()
	rates := flat(6, 0.01)

	base := NewCopulaPool(threeAssets(), 6, 2)
	require.NoError(t, base.CalculateCashFlows(dates, defaultsFrom(6, []int{0, 0, 5}), rates, 12))

	bumped := append([]float64(nil), rates...)
	bumped[5] = 0.5
	perturbed := NewCopulaPool(threeAssets(), 6, 2)
	require.NoError(t, perturbed.CalculateCashFlows(dates, defaultsFrom(6, []int{0, 0, 5}), bumped, 12))

	for tt := 0; tt < 5; tt++ {
		assert.Equal(t, base.Balances[tt], perturbed.Balances[tt])
		assert.Equal(t, base.AvailableInterest[tt], perturbed.AvailableInterest[tt])
		assert.Equal(t, base.Losses[tt], perturbed.Losses[tt])
	}
}

// fixedSource returns the same draws every time.
type fixedSource struct {
	u, z float64
}

func (s fixedSource) Float64() float64     { return s.u }
func (s fixedSource) NormFloat64() float64 { return s.z }

func identity(n int) *mat.TriDense {
	l := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		l.SetTri(i, i, 1)
	}
	return l
}

func TestDrawDefaults_Threshold(t *testing.T) {
	probs := [][]float64{
		{0, 0},
		{0.05, 0.2},
		{0.05, 0.2},
	}
	d := DrawDefaults(fixedSource{u: 0.9}, identity(2), probs)

	require.Len(t, d, 3)
	assert.Equal(t, []bool{false, false}, d[0], "closing date is always performing")
	assert.Equal(t, []bool{false, true}, d[1])
	assert.Equal(t, []bool{false, true}, d[2])
}

func TestDrawDefaults_CertainDefault(t *testing.T) {
	probs := [][]float64{{1}, {1}}
	d := DrawDefaults(fixedSource{u: 0}, identity(1), probs)
	assert.False(t, d[0][0])
	assert.True(t, d[1][0])
}

func TestDrawDefaults_PerfectCorrelationMovesTogether(t *testing.T) {
	// Two assets whose factor rows are identical see the same shock.
	l := mat.NewTriDense(2, mat.Lower, []float64{1, 0, 1, 0})
	rng := rand.New(rand.NewSource(7))
	probs := [][]float64{{0, 0}, {0.5, 0.5}}
	for i := 0; i < 50; i++ {
		d := DrawDefaults(rng, l, probs)
		assert.Equal(t, d[1][0], d[1][1])
	}
}

func TestAssetProbabilities(t *testing.T) {
	assets := []model.Asset{
		{ID: "x", Rating: "BB", DPMultiplier: 1},
		{ID: "y", Rating: "BB", DPMultiplier: 3},
	}
	curves := map[string][]float64{"BB": {0, 0.2, 0.4}}

	probs, err := AssetProbabilities(assets, curves, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, probs[1][0], tol)
	assert.InDelta(t, 0.6, probs[1][1], tol)
	assert.InDelta(t, 1.0, probs[2][1], tol, "capped at 1")

	_, err = AssetProbabilities([]model.Asset{{ID: "z", Rating: "CCC"}}, curves, 3)
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = AssetProbabilities(assets, curves, 5)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestAggregatePool_CalculateCashFlows(t *testing.T) {
	p := NewAggregatePool(4, AggregateParams{
		OpeningBalance: 1000,
		DefaultRate:    0.1,
		Timing:         []float64{0.5, 0.5, 0},
		RepaymentRates: []float64{0.1, 0.1, 0.1},
		RecoveryRate:   0.5,
		RecoveryStep:   1,
	})

	require.NoError(t, p.CalculateCashFlows(flat(4, 0.12), 12))

	assert.InDeltaSlice(t, []float64{0, 50, 50, 0}, p.Losses, tol)
	assert.InDeltaSlice(t, []float64{0, 95, 80.5, 72.45}, p.Repayments, tol)
	assert.InDeltaSlice(t, []float64{1000, 855, 724.5, 652.05}, p.Balances, tol)
	assert.InDeltaSlice(t, []float64{0, 9.5, 8.05, 7.245}, p.AvailableInterest, tol)
	assert.InDeltaSlice(t, []float64{0, 0, 25, 25}, p.Recoveries, tol)
}

func TestAggregatePool_LossCappedByBalance(t *testing.T) {
	p := NewAggregatePool(3, AggregateParams{
		OpeningBalance: 100,
		DefaultRate:    5,
		Timing:         []float64{1, 1},
		RepaymentRates: []float64{0, 0},
	})

	require.NoError(t, p.CalculateCashFlows(flat(3, 0), 12))

	assert.InDelta(t, 100, p.Losses[1], tol)
	assert.InDelta(t, 0, p.Balances[1], tol)
	assert.InDelta(t, 0, p.Losses[2], tol, "nothing left to lose")
	assert.InDelta(t, 100, p.TotalLosses(), tol)
}

func TestAggregatePool_ShortVectors(t *testing.T) {
	p := NewAggregatePool(4, AggregateParams{OpeningBalance: 1, Timing: []float64{1}})
	err := p.CalculateCashFlows(flat(4, 0), 12)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestDrawDefaultRate(t *testing.T) {
	rate, err := DrawDefaultRate(fixedSource{z: 0}, LogNormal, -3, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.049787068367863944, rate, 1e-12)

	_, err = DrawDefaultRate(fixedSource{}, "gamma", 1, 1)
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = DrawDefaultRate(fixedSource{}, InverseGaussian, 0, 1)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestDrawDefaultRate_InverseGaussianMean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const draws = 20000
	var sum float64
	for i := 0; i < draws; i++ {
		r, err := DrawDefaultRate(rng, InverseGaussian, 0.05, 0.5)
		require.NoError(t, err)
		require.Greater(t, r, 0.0)
		sum += r
	}
	assert.InDelta(t, 0.05, sum/draws, 0.002)
}

func TestLedger_CumulativeLosses(t *testing.T) {
	l := NewLedger(4, 100, 0.01)
	l.Losses = []float64{0, 5, 0, 7}
	assert.Equal(t, 5.0, l.CumulativeLosses(2))
	assert.Equal(t, 12.0, l.TotalLosses())
	assert.Equal(t, []float64{0.01, 0.01, 0.01, 0.01}, l.Spreads)
}
