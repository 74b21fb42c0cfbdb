package period

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/openrating/waterfall/internal/model"
)

// ConditionalProbabilities converts a cumulative default-probability curve
// sampled at whole years 0..K into one value per simulation period.
//
// Annual runs use the grid as is. Monthly runs fit a natural cubic spline
// through the annual points. The result is clamped to [0, 1], forced
// non-decreasing (the spline can dip between knots) and padded with the
// last value up to n periods.
func ConditionalProbabilities(annual []float64, ppy, n int) ([]float64, error) {
	if len(annual) == 0 {
		return nil, fmt.Errorf("%w: empty default curve", model.ErrConfiguration)
	}

	out := make([]float64, n)
	switch ppy {
	case 1:
		for t := range out {
			out[t] = annual[min(t, len(annual)-1)]
		}
	case 12:
		if len(annual) < 3 {
			// Too few knots for a spline; hold each annual value for the year.
			for t := range out {
				out[t] = annual[min(t/12, len(annual)-1)]
			}
			break
		}
		xs := make([]float64, len(annual))
		for i := range xs {
			xs[i] = float64(i)
		}
		var spline interp.NaturalCubic
		if err := spline.Fit(xs, annual); err != nil {
			return nil, fmt.Errorf("%w: fit default curve: %v", model.ErrConfiguration, err)
		}
		last := xs[len(xs)-1]
		for t := range out {
			x := float64(t) / 12
			if x >= last {
				out[t] = annual[len(annual)-1]
				continue
			}
			out[t] = spline.Predict(x)
		}
	default:
		return nil, fmt.Errorf("%w: no curve interpolation for %d periods per year",
			model.ErrConfiguration, ppy)
	}

	running := 0.0
	for t, p := range out {
		p = max(0, min(1, p))
		if p < running {
			p = running
		}
		running = p
		out[t] = p
	}
	return out, nil
}
