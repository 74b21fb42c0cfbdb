// Package period builds the simulation calendar: period-end dates, the
// number of periods per year, day-count fractions and default-probability
// curves interpolated to run granularity.
package period

import (
	"fmt"
	"time"

	"github.com/openrating/waterfall/internal/model"
)

// Frequency selects the period length.
type Frequency string

const (
	Monthly Frequency = "M"
	Annual  Frequency = "A"
)

// PeriodsPerYear returns 12 for monthly and 1 for annual schedules.
func PeriodsPerYear(f Frequency) (int, error) {
	switch f {
	case Monthly:
		return 12, nil
	case Annual:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: unsupported frequency %q", model.ErrConfiguration, f)
	}
}

// Schedule returns the period-end dates in [start, end]: month ends for
// monthly schedules, year ends for annual ones. Index 0 is the first
// period end and carries initial conditions.
func Schedule(start, end time.Time, f Frequency) ([]time.Time, error) {
	if _, err := PeriodsPerYear(f); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s before start date %s",
			model.ErrConfiguration, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	start = truncateDay(start)
	end = truncateDay(end)

	var dates []time.Time
	cur := periodEnd(start, f)
	for !cur.After(end) {
		dates = append(dates, cur)
		cur = periodEnd(cur.AddDate(0, 0, 1), f)
	}
	return dates, nil
}

// periodEnd returns the last day of the month (or year) containing t.
func periodEnd(t time.Time, f Frequency) time.Time {
	if f == Annual {
		return time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	// Day 0 of the following month is the last day of this one.
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Day-count bases accepted by YearFrac.
const (
	BasisActual360 = 2
	BasisActual365 = 3
)

// YearFrac returns the year fraction between two dates: actual/360 for
// basis 2, actual/365 for anything else.
func YearFrac(start, end time.Time, basis int) float64 {
	days := end.Sub(start).Hours() / 24
	if basis == BasisActual360 {
		return days / 360
	}
	return days / 365
}
