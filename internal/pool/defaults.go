package pool

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/openrating/waterfall/internal/model"
)

// DefaultMatrix marks, per period and asset, whether the asset is in
// default. Row 0 is the closing date and is always performing.
type DefaultMatrix [][]bool

// uniform bounds keep the normal quantile finite.
const (
	minUniform = 1e-12
	maxUniform = 1 - 1e-12
)

// AssetProbabilities maps each asset onto the per-period cumulative default
// curve of its rating bucket, scaled by the asset's multiplier and capped
// at 1. curves must already be at run granularity with n entries each.
// The result is indexed [period][asset].
func AssetProbabilities(assets []model.Asset, curves map[string][]float64, n int) ([][]float64, error) {
	probs := make([][]float64, n)
	for t := range probs {
		probs[t] = make([]float64, len(assets))
	}
	for a, asset := range assets {
		curve, ok := curves[asset.Rating]
		if !ok {
			return nil, fmt.Errorf("%w: no default curve for rating %q (asset %s)",
				model.ErrConfiguration, asset.Rating, asset.ID)
		}
		if len(curve) < n {
			return nil, fmt.Errorf("%w: default curve %q has %d periods, need %d",
				model.ErrConfiguration, asset.Rating, len(curve), n)
		}
		for t := 0; t < n; t++ {
			probs[t][a] = min(1, curve[t]*asset.DPMultiplier)
		}
	}
	return probs, nil
}

// DrawDefaults simulates one correlated default path. Each asset gets one
// standard uniform, mapped to a standard normal, correlated through the
// lower Cholesky factor chol and mapped back to a uniform. An asset is in
// default at period t when its correlated uniform exceeds 1 - probs[t][a].
func DrawDefaults(rng Source, chol mat.Matrix, probs [][]float64) DefaultMatrix {
	n := len(probs)
	k, _ := chol.Dims()

	z := make([]float64, k)
	for a := range z {
		u := min(maxUniform, max(minUniform, rng.Float64()))
		z[a] = distuv.UnitNormal.Quantile(u)
	}

	var y mat.VecDense
	y.MulVec(chol, mat.NewVecDense(k, z))

	correlated := make([]float64, k)
	for a := range correlated {
		correlated[a] = distuv.UnitNormal.CDF(y.AtVec(a))
	}

	defaults := make(DefaultMatrix, n)
	for t := range defaults {
		defaults[t] = make([]bool, k)
		if t == 0 {
			continue
		}
		for a := 0; a < k; a++ {
			defaults[t][a] = correlated[a] > 1-probs[t][a]
		}
	}
	return defaults
}
