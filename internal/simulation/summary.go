package simulation

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/openrating/waterfall/internal/model"
)

// summaryPlaces is the rounding applied to every reported statistic.
const summaryPlaces = 8

// Failure reasons reported in RunSummary.FailureReasons.
const (
	ReasonConfiguration = "configuration"
	ReasonInvariant     = "invariant_violation"
	ReasonOther         = "other"
)

// Reason classifies a trial error.
func Reason(err error) string {
	switch {
	case errors.Is(err, model.ErrConfiguration):
		return ReasonConfiguration
	case errors.Is(err, model.ErrInvariantViolation):
		return ReasonInvariant
	default:
		return ReasonOther
	}
}

// Summarize averages completed trials. Statistics are accumulated in
// float64 in trial order and converted to decimal once at the end.
func Summarize(outcomes []Outcome) *model.RunSummary {
	s := &model.RunSummary{}

	var (
		loss, excess float64
		acc          []trancheAcc
	)
	for _, o := range outcomes {
		if o.Err != nil {
			s.Failed++
			if s.FailureReasons == nil {
				s.FailureReasons = make(map[string]int)
			}
			s.FailureReasons[Reason(o.Err)]++
			continue
		}
		if o.Trial == nil {
			continue
		}
		s.Completed++
		loss += o.Trial.CumulativeLoss
		excess += o.Trial.AverageExcessSpread

		if acc == nil {
			acc = make([]trancheAcc, len(o.Trial.Tranches))
		}
		for i, tr := range o.Trial.Tranches {
			acc[i].add(tr)
		}
	}

	if s.Completed == 0 {
		s.MeanCumulativeLoss = decimal.Zero
		s.MeanExcessSpread = decimal.Zero
		return s
	}

	n := float64(s.Completed)
	s.MeanCumulativeLoss = toDecimal(loss / n)
	s.MeanExcessSpread = toDecimal(excess / n)
	s.Tranches = make([]model.TrancheSummary, len(acc))
	for i, a := range acc {
		s.Tranches[i] = a.summary(n)
	}
	return s
}

type trancheAcc struct {
	name                 string
	price, flat, wal     float64
	lossFraction, losses float64
}

func (a *trancheAcc) add(tr TrancheResult) {
	a.name = tr.Name
	a.price += tr.Price
	a.flat += tr.FlatPrice
	a.wal += tr.WAL
	if tr.PDL > 1e-9 {
		a.losses++
		if tr.InitialBalance > 0 {
			a.lossFraction += tr.PDL / tr.InitialBalance
		}
	}
}

func (a trancheAcc) summary(n float64) model.TrancheSummary {
	return model.TrancheSummary{
		Name:            a.name,
		MeanPrice:       toDecimal(a.price / n),
		MeanFlatPrice:   toDecimal(a.flat / n),
		MeanWAL:         toDecimal(a.wal / n),
		ExpectedLoss:    toDecimal(a.lossFraction / n),
		LossProbability: toDecimal(a.losses / n),
	}
}

// toDecimal rounds v for reporting. Non-finite values report as zero.
func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(summaryPlaces)
}
