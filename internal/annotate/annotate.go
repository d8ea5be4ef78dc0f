// Package annotate computes sample coverage and per-item risk scores.
package annotate

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RiskScorer scores one transaction in [0,1] against a reference amount.
type RiskScorer interface {
	Score(tx domain.Transaction, reference decimal.Decimal) (float64, []domain.RiskFactor)
}

// Annotator adds coverage and risk scores to a selection.
type Annotator struct {
	scorer RiskScorer
}

// New creates an annotator. A nil scorer uses DefaultScorer.
func New(scorer RiskScorer) *Annotator {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	return &Annotator{scorer: scorer}
}

// Annotate returns coverage = 100 * sum(|sample|) / pop.Sum, defined as 0 when
// pop.Sum is 0, and a fresh risk score for every item. Items are copied, not mutated.
func (a *Annotator) Annotate(items []domain.SampleItem, pop domain.Population, params domain.SamplingParameters) domain.Annotation {
	out := domain.Annotation{
		SampledAmount: decimal.Zero,
		Items:         make([]domain.SampleItem, len(items)),
	}

	reference := params.HighRiskLimit()
	if !reference.IsPositive() {
		reference = pop.MaxAbsAmount()
	}

	for i, item := range items {
		out.SampledAmount = out.SampledAmount.Add(item.Transaction.AbsAmount())
		item.RiskScore, item.RiskFactors = a.scorer.Score(item.Transaction, reference)
		out.Items[i] = item
	}

	if pop.Sum.IsZero() {
		out.Conditions = append(out.Conditions, domain.Condition{
			Code:   domain.CondDegenerateCoverage,
			Detail: "population sum is zero; coverage is reported as 0",
		})
		return out
	}

	coverage := out.SampledAmount.Mul(hundred).Div(pop.Sum).InexactFloat64()
	out.CoveragePercentage = math.Max(0, math.Min(100, coverage))
	return out
}

// WeightedScorer combines an amount factor and an indicator factor:
// AmountWeight * min(1, |amount| / reference) + IndicatorWeight * IndicatorScores[indicator].
type WeightedScorer struct {
	AmountWeight    float64
	IndicatorWeight float64
	IndicatorScores map[domain.RiskIndicator]float64
}

// DefaultScorer weights amount 0.6 and indicator 0.4.
func DefaultScorer() WeightedScorer {
	return NewScorer(domain.DefaultSamplingConfig())
}

// NewScorer builds a scorer from the sampling config.
func NewScorer(cfg domain.SamplingConfig) WeightedScorer {
	return WeightedScorer{
		AmountWeight:    cfg.AmountWeight,
		IndicatorWeight: cfg.IndicatorWeight,
		IndicatorScores: cfg.IndicatorScores,
	}
}

// Score implements RiskScorer.
func (s WeightedScorer) Score(tx domain.Transaction, reference decimal.Decimal) (float64, []domain.RiskFactor) {
	amountValue := 0.0
	if reference.IsPositive() {
		amountValue = math.Min(1, tx.AbsAmount().Div(reference).InexactFloat64())
	}
	indicatorValue := s.IndicatorScores[tx.RiskIndicator]

	factors := []domain.RiskFactor{
		{Name: "amount", Value: amountValue, Weight: s.AmountWeight, Contribution: s.AmountWeight * amountValue},
		{Name: "indicator", Value: indicatorValue, Weight: s.IndicatorWeight, Contribution: s.IndicatorWeight * indicatorValue},
	}

	score := 0.0
	for _, f := range factors {
		score += f.Contribution
	}
	return math.Max(0, math.Min(1, score)), factors
}
