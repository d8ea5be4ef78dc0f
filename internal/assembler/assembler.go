// Package assembler packages planner, selector and annotator output into an immutable sampling run.
package assembler

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Assembler stamps and packages sampling runs.
type Assembler struct {
	// Clock supplies generatedAt; it is read exactly once per run.
	Clock func() time.Time

	// NewID supplies plan identifiers.
	NewID func() string
}

// New creates an assembler using wall-clock UTC time and random UUIDs.
func New() *Assembler {
	return &Assembler{
		Clock: func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.New().String() },
	}
}

// Input contains the outputs of every upstream component.
type Input struct {
	TenantID    string
	Ledger      domain.LedgerKey
	DataVersion int64
	Population  domain.Population
	Size        domain.SizePlan
	Selection   domain.Selection
	Annotation  domain.Annotation
	Params      domain.SamplingParameters
}

// Assemble builds the run record. It copies everything it keeps, so later
// changes to the inputs never reach the returned run.
func (a *Assembler) Assemble(in Input) domain.SamplingRun {
	plan := domain.SamplingPlan{
		ID:                    a.NewID(),
		TenantID:              in.TenantID,
		Ledger:                in.Ledger,
		Method:                in.Params.Method(),
		TestType:              in.Params.TestType(),
		RecommendedSampleSize: in.Size.Recommended,
		ActualSampleSize:      len(in.Annotation.Items),
		CoveragePercentage:    in.Annotation.CoveragePercentage,
		GeneratedAt:           a.Clock(),
		Seed:                  in.Params.Seed(),
		PopulationSize:        in.Population.Size,
		PopulationSum:         in.Population.Sum,
		SampledAmount:         in.Annotation.SampledAmount,
		ForcedCount:           in.Selection.ForcedCount,
		Parameters:            in.Params.Spec(),
		DataVersion:           in.DataVersion,
	}

	switch {
	case in.Selection.Interval != nil:
		interval := *in.Selection.Interval
		plan.SamplingInterval = &interval
	case in.Size.Interval != nil:
		interval := *in.Size.Interval
		plan.SamplingInterval = &interval
	}

	if len(in.Selection.Strata) > 0 {
		plan.Strata = append([]domain.StratumAllocation(nil), in.Selection.Strata...)
	} else if len(in.Size.Strata) > 0 {
		plan.Strata = append([]domain.StratumAllocation(nil), in.Size.Strata...)
	}

	plan.Conditions = mergeConditions(in.Size.Conditions, in.Selection.Conditions, in.Annotation.Conditions)

	return domain.SamplingRun{
		Plan:       plan,
		Items:      append([]domain.SampleItem(nil), in.Annotation.Items...),
		Population: in.Population.Summary(),
	}
}

// mergeConditions keeps the first occurrence of each code, in pipeline order.
func mergeConditions(groups ...[]domain.Condition) []domain.Condition {
	var out []domain.Condition
	seen := make(map[domain.ConditionCode]bool)
	for _, group := range groups {
		for _, c := range group {
			if seen[c.Code] {
				continue
			}
			seen[c.Code] = true
			out = append(out, c)
		}
	}
	return out
}
