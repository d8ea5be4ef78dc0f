// Package planner computes recommended audit sample sizes.
package planner

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Planner sizes samples from population statistics and validated parameters.
// It holds only its constant table and is safe for concurrent use.
type Planner struct {
	factors Factors
}

// New creates a planner over a validated factor table.
func New(factors Factors) (*Planner, error) {
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	return &Planner{factors: factors}, nil
}

// Default returns a planner over the published factor table.
func Default() *Planner {
	return &Planner{factors: DefaultFactors()}
}

// Factors returns the planner's table.
func (p *Planner) Factors() Factors {
	return p.factors
}

// Plan returns the recommended sample size, clamped to [0, pop.Size].
// Parameter combinations that are undefined for the method fail with
// domain.ErrInvalidParameters before any sizing is attempted.
func (p *Planner) Plan(pop domain.Population, params domain.SamplingParameters) (domain.SizePlan, error) {
	var (
		plan domain.SizePlan
		err  error
	)

	switch {
	case params.TestType() == domain.TestControl:
		plan, err = p.control(pop, params)
	case params.Method() == domain.MethodMonetaryUnit:
		plan, err = p.monetaryUnit(pop, params)
	case params.Method() == domain.MethodStratified:
		plan, err = p.stratified(pop, params)
	default:
		plan, err = p.substantivePlan(pop, params)
	}
	if err != nil {
		return domain.SizePlan{}, err
	}

	if pop.IsEmpty {
		plan.Recommended = 0
		for i := range plan.Strata {
			plan.Strata[i].Recommended = 0
		}
		plan.Conditions = append(plan.Conditions, domain.Condition{
			Code:   domain.CondEmptyPopulation,
			Detail: fmt.Sprintf("population is empty: %s", pop.EmptyReason),
		})
	}

	if plan.Recommended > pop.Size {
		plan.Conditions = append(plan.Conditions, domain.Condition{
			Code:   domain.CondPopulationTooSmall,
			Detail: fmt.Sprintf("formula size %d exceeds population size %d", plan.Recommended, pop.Size),
		})
		plan.Recommended = pop.Size
		trimStrata(plan.Strata, pop.Size)
	}
	if plan.Recommended < 0 {
		plan.Recommended = 0
	}
	return plan, nil
}

// substantive applies n = ceil(RF * sum / (materiality - expected)).
// It reports a zero-materiality condition instead of a size when materiality is not positive.
func (p *Planner) substantive(sum decimal.Decimal, params domain.SamplingParameters) (int, *domain.Condition, error) {
	materiality := params.Materiality()
	expected := params.ExpectedMisstatement()

	if !materiality.IsPositive() {
		return 0, &domain.Condition{
			Code:   domain.CondZeroMateriality,
			Detail: "materiality is zero; no sample size can be derived",
		}, nil
	}

	tolerable := materiality.Sub(expected)
	if !tolerable.IsPositive() {
		return 0, nil, domain.InvalidParameter("ExpectedMisstatement",
			"expected misstatement %s must be below materiality %s", expected, materiality)
	}
	if sum.IsZero() {
		return 0, nil, nil
	}

	rf := decimal.NewFromFloat(p.factors.Reliability[params.ConfidenceLevel()])
	return ceilInt(rf.Mul(sum).Div(tolerable)), nil, nil
}

func (p *Planner) substantivePlan(pop domain.Population, params domain.SamplingParameters) (domain.SizePlan, error) {
	n, cond, err := p.substantive(pop.Sum, params)
	if err != nil {
		return domain.SizePlan{}, err
	}
	plan := domain.SizePlan{Recommended: n}
	if cond != nil {
		plan.Conditions = append(plan.Conditions, *cond)
	}
	return plan, nil
}

// monetaryUnit derives the sampling interval (materiality - expected*EF) / RF
// and sizes the sample as ceil(sum / interval).
func (p *Planner) monetaryUnit(pop domain.Population, params domain.SamplingParameters) (domain.SizePlan, error) {
	level := params.ConfidenceLevel()
	rf := decimal.NewFromFloat(p.factors.Reliability[level])
	ef := decimal.NewFromFloat(p.factors.Expansion[level])

	interval := params.Materiality().Sub(params.ExpectedMisstatement().Mul(ef)).Div(rf)
	if !interval.IsPositive() {
		return domain.SizePlan{}, domain.InvalidParameter("Materiality",
			"monetary unit sampling interval %s is not positive", interval.StringFixed(2))
	}

	plan := domain.SizePlan{Interval: &interval}
	if !pop.Sum.IsZero() {
		plan.Recommended = ceilInt(pop.Sum.Div(interval))
	}
	return plan, nil
}

// control finds the smallest n with P[Poisson(n*TDR) <= floor(n*EDR)] <= 1 - confidence.
func (p *Planner) control(pop domain.Population, params domain.SamplingParameters) (domain.SizePlan, error) {
	tdr := params.TolerableDeviationRate()
	edr := params.ExpectedDeviationRate()
	if edr >= tdr {
		return domain.SizePlan{}, domain.InvalidParameter("ExpectedDeviationRate",
			"expected deviation rate %.4f must be below tolerable rate %.4f", edr, tdr)
	}

	alpha := 1 - float64(params.ConfidenceLevel())/100
	for n := 1; n <= p.factors.ControlCap; n++ {
		k := int(math.Floor(float64(n) * edr))
		if poissonCDF(k, float64(n)*tdr) <= alpha {
			return domain.SizePlan{Recommended: n}, nil
		}
	}

	return domain.SizePlan{
		Recommended: p.factors.ControlCap,
		Conditions: []domain.Condition{{
			Code:   domain.CondControlCapReached,
			Detail: fmt.Sprintf("no sample size up to %d reaches the requested confidence", p.factors.ControlCap),
		}},
	}, nil
}

// stratified sizes each stratum with the substantive formula on its own sum,
// clamped to the stratum's count.
func (p *Planner) stratified(pop domain.Population, params domain.SamplingParameters) (domain.SizePlan, error) {
	bounds := domain.StrataBounds(params.StrataBounds())
	if err := bounds.Validate(); err != nil {
		return domain.SizePlan{}, err
	}

	strata := domain.Stratify(pop.Transactions, bounds)
	plan := domain.SizePlan{Strata: strata}

	for i := range strata {
		n, cond, err := p.substantive(strata[i].Sum, params)
		if err != nil {
			return domain.SizePlan{}, err
		}
		if cond != nil {
			plan.Conditions = []domain.Condition{*cond}
		}
		strata[i].Recommended = min(n, strata[i].Count)
		plan.Recommended += strata[i].Recommended
	}
	return plan, nil
}

// trimStrata reduces stratum allocations until they total at most limit,
// taking one item at a time from the largest allocation (lowest index on ties).
func trimStrata(strata []domain.StratumAllocation, limit int) {
	total := 0
	for _, s := range strata {
		total += s.Recommended
	}
	for ; total > limit; total-- {
		largest := 0
		for i := range strata {
			if strata[i].Recommended > strata[largest].Recommended {
				largest = i
			}
		}
		strata[largest].Recommended--
	}
}

func ceilInt(d decimal.Decimal) int {
	c := d.Ceil()
	if c.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	return int(c.IntPart())
}
