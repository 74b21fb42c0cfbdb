// Package correlation supplies pairwise default correlation between pool
// assets and the Cholesky factor used by the copula default draw.
//
// Correlation is additive: every pair starts at a global base value and
// picks up an extra term for each classifier the two issuers share
// (region, country, industry sector, industry). The diagonal is 1.
package correlation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openrating/waterfall/internal/model"
)

// ErrNotPositiveDefinite is returned when the assembled correlation matrix
// has no Cholesky factorization, typically because the additive terms push
// some pairwise correlation to 1 or above.
var ErrNotPositiveDefinite = fmt.Errorf("%w: correlation matrix is not positive definite",
	model.ErrConfiguration)

// ErrNoAssets is returned when a matrix is requested for an empty pool.
var ErrNoAssets = errors.New("correlation: no assets")

// Classification is the part of an issuer that drives correlation.
type Classification struct {
	Region   string
	Country  string
	Sector   string
	Industry string
}

// Of extracts the classification of an asset.
func Of(a model.Asset) Classification {
	return Classification{
		Region:   a.Region,
		Country:  a.Country,
		Sector:   a.Sector,
		Industry: a.Industry,
	}
}

// Table holds the correlation assumptions. Missing map entries contribute
// nothing.
type Table struct {
	Base       float64            `json:"base" yaml:"base"`
	Regions    map[string]float64 `json:"regions" yaml:"regions"`
	Countries  map[string]float64 `json:"countries" yaml:"countries"`
	Sectors    map[string]float64 `json:"sectors" yaml:"sectors"`
	Industries map[string]float64 `json:"industries" yaml:"industries"`
}

// Pair returns the correlation between two issuers.
func (t *Table) Pair(a, b Classification) float64 {
	rho := t.Base
	if a.Region == b.Region {
		rho += t.Regions[a.Region]
	}
	if a.Country == b.Country {
		rho += t.Countries[a.Country]
	}
	if a.Sector == b.Sector {
		rho += t.Sectors[a.Sector]
	}
	if a.Industry == b.Industry {
		rho += t.Industries[a.Industry]
	}
	return rho
}

// Matrix assembles the full symmetric correlation matrix.
func (t *Table) Matrix(cls []Classification) *mat.SymDense {
	n := len(cls)
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, t.Pair(cls[i], cls[j]))
		}
	}
	return m
}

// Cholesky returns the lower-triangular factor L with L·Lᵀ equal to the
// correlation matrix of cls.
func (t *Table) Cholesky(cls []Classification) (*mat.TriDense, error) {
	if len(cls) == 0 {
		return nil, ErrNoAssets
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(t.Matrix(cls)); !ok {
		return nil, ErrNotPositiveDefinite
	}

	l := mat.NewTriDense(len(cls), mat.Lower, nil)
	chol.LTo(l)
	return l, nil
}
