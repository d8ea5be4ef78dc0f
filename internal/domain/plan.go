package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConditionCode names a non-error state the plan surfaces to the reader.
type ConditionCode string

const (
	CondEmptyPopulation    ConditionCode = "empty-population"
	CondZeroMateriality    ConditionCode = "zero-materiality"
	CondDegenerateCoverage ConditionCode = "degenerate-coverage"
	CondPopulationTooSmall ConditionCode = "population-smaller-than-recommended"
	CondHighRiskOverQuota  ConditionCode = "high-risk-exceeds-quota"
	CondMultiHit           ConditionCode = "mus-multi-hit"
	CondControlCapReached  ConditionCode = "control-size-cap-reached"
)

// Condition is a named plan state with a human-readable detail.
type Condition struct {
	Code   ConditionCode `json:"code"`
	Detail string        `json:"detail"`
}

// StratumAllocation is one stratum of a stratified plan: [Lower, Upper) on |amount|.
// Upper is nil for the open top stratum.
type StratumAllocation struct {
	Index       int              `json:"index"`
	Lower       decimal.Decimal  `json:"lower"`
	Upper       *decimal.Decimal `json:"upper,omitempty"`
	Count       int              `json:"count"`
	Sum         decimal.Decimal  `json:"sum"`
	Recommended int              `json:"recommended"`
	Selected    int              `json:"selected"`
}

// SizePlan is the planner output.
type SizePlan struct {
	Recommended int                 `json:"recommended"`
	Interval    *decimal.Decimal    `json:"interval,omitempty"` // MUS sampling interval
	Strata      []StratumAllocation `json:"strata,omitempty"`
	Conditions  []Condition         `json:"conditions,omitempty"`
}

// SampleItem references one selected transaction.
type SampleItem struct {
	TransactionID string       `json:"transactionId"`
	Transaction   Transaction  `json:"transaction"`
	RiskScore     float64      `json:"riskScore"`
	RiskFactors   []RiskFactor `json:"riskFactors,omitempty"`
	Forced        bool         `json:"forced,omitempty"`
	ForcedBy      string       `json:"forcedBy,omitempty"`
	Hits          int          `json:"hits,omitempty"`
	MultiHit      bool         `json:"multiHit,omitempty"`
	Stratum       int          `json:"stratum,omitempty"`
}

// RiskFactor is one weighted contribution to an item's risk score.
type RiskFactor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Selection is the selector output before annotation.
type Selection struct {
	Items       []SampleItem        `json:"items"`
	ForcedCount int                 `json:"forcedCount"`
	Interval    *decimal.Decimal    `json:"interval,omitempty"` // MUS selection width
	Strata      []StratumAllocation `json:"strata,omitempty"`
	Conditions  []Condition         `json:"conditions,omitempty"`
}

// Annotation is the annotator output.
type Annotation struct {
	CoveragePercentage float64         `json:"coveragePercentage"`
	SampledAmount      decimal.Decimal `json:"sampledAmount"`
	Items              []SampleItem    `json:"items"`
	Conditions         []Condition     `json:"conditions,omitempty"`
}

// SamplingPlan is the immutable record of one sampling run.
type SamplingPlan struct {
	ID                    string              `json:"id"`
	TenantID              string              `json:"tenantId,omitempty"`
	Ledger                LedgerKey           `json:"ledger"`
	Method                Method              `json:"method"`
	TestType              TestType            `json:"testType"`
	RecommendedSampleSize int                 `json:"recommendedSampleSize"`
	ActualSampleSize      int                 `json:"actualSampleSize"`
	CoveragePercentage    float64             `json:"coveragePercentage"`
	GeneratedAt           time.Time           `json:"generatedAt"`
	Seed                  uint64              `json:"seed"`
	PopulationSize        int                 `json:"populationSize"`
	PopulationSum         decimal.Decimal     `json:"populationSum"`
	SampledAmount         decimal.Decimal     `json:"sampledAmount"`
	SamplingInterval      *decimal.Decimal    `json:"samplingInterval,omitempty"`
	Strata                []StratumAllocation `json:"strata,omitempty"`
	ForcedCount           int                 `json:"forcedCount"`
	Conditions            []Condition         `json:"conditions,omitempty"`
	Parameters            ParameterSpec       `json:"parameters"`
	DataVersion           int64               `json:"dataVersion"`
}

// HasCondition reports whether the plan carries the given code.
func (p *SamplingPlan) HasCondition(code ConditionCode) bool {
	for _, c := range p.Conditions {
		if c.Code == code {
			return true
		}
	}
	return false
}

// SamplingRun is a plan plus the materialized sample.
type SamplingRun struct {
	Plan       SamplingPlan      `json:"plan"`
	Items      []SampleItem      `json:"items"`
	Population PopulationSummary `json:"population"`
}
