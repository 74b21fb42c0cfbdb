package period

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrating/waterfall/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodsPerYear(t *testing.T) {
	ppy, err := PeriodsPerYear(Monthly)
	require.NoError(t, err)
	assert.Equal(t, 12, ppy)

	ppy, err = PeriodsPerYear(Annual)
	require.NoError(t, err)
	assert.Equal(t, 1, ppy)

	_, err = PeriodsPerYear("Q")
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestSchedule_Monthly(t *testing.T) {
	dates, err := Schedule(date(2024, 1, 15), date(2024, 6, 30), Monthly)
	require.NoError(t, err)
	require.Len(t, dates, 6)
	assert.Equal(t, date(2024, 1, 31), dates[0])
	assert.Equal(t, date(2024, 2, 29), dates[1]) // leap year
	assert.Equal(t, date(2024, 6, 30), dates[5])
}

func TestSchedule_Annual(t *testing.T) {
	dates, err := Schedule(date(2024, 1, 1), date(2027, 12, 31), Annual)
	require.NoError(t, err)
	require.Len(t, dates, 4)
	assert.Equal(t, date(2027, 12, 31), dates[3])
}

func TestSchedule_EndBeforeStart(t *testing.T) {
	_, err := Schedule(date(2025, 1, 1), date(2024, 1, 1), Monthly)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestYearFrac(t *testing.T) {
	start, end := date(2024, 1, 1), date(2025, 1, 1) // 366 days
	assert.InDelta(t, 366.0/365, YearFrac(start, end, BasisActual365), 1e-12)
	assert.InDelta(t, 366.0/360, YearFrac(start, end, BasisActual360), 1e-12)
}

func TestConditionalProbabilities_Annual(t *testing.T) {
	got, err := ConditionalProbabilities([]float64{0, 0.02, 0.05}, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.02, 0.05, 0.05, 0.05}, got)
}

func TestConditionalProbabilities_MonthlyHitsKnots(t *testing.T) {
	annual := []float64{0, 0.02, 0.045, 0.07, 0.09}
	got, err := ConditionalProbabilities(annual, 12, 61)
	require.NoError(t, err)
	require.Len(t, got, 61)

	for year, p := range annual {
		assert.InDelta(t, p, got[year*12], 1e-9, "knot at year %d", year)
	}
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1], "curve must be non-decreasing at %d", i)
	}
}

func TestConditionalProbabilities_Clamped(t *testing.T) {
	got, err := ConditionalProbabilities([]float64{0.5, 1.4}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 1}, got)
}

func TestConditionalProbabilities_Errors(t *testing.T) {
	_, err := ConditionalProbabilities(nil, 12, 10)
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = ConditionalProbabilities([]float64{0, 0.1}, 4, 10)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}
