package domain

import (
	"errors"
	"reflect"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// TestType selects which parameter group is authoritative.
type TestType string

const (
	TestSubstantive TestType = "substantive"
	TestControl     TestType = "control"
)

// Method is a named audit sampling method.
type Method string

const (
	MethodSimpleRandom Method = "simple-random"
	MethodSystematic   Method = "systematic"
	MethodMonetaryUnit Method = "monetary-unit"
	MethodStratified   Method = "stratified"
	MethodThreshold    Method = "threshold"
)

// ParameterSpec is the raw, decodable sampling configuration received at the boundary.
// It is turned into SamplingParameters by NewSamplingParameters and never used directly.
type ParameterSpec struct {
	TestType               TestType          `json:"testType" yaml:"testType" validate:"required,oneof=substantive control"`
	Method                 Method            `json:"method" yaml:"method" validate:"required,oneof=simple-random systematic monetary-unit stratified threshold"`
	ConfidenceLevel        int               `json:"confidenceLevel" yaml:"confidenceLevel" validate:"required,oneof=90 95 99"`
	Materiality            decimal.Decimal   `json:"materiality" yaml:"materiality" validate:"gte=0"`
	ExpectedMisstatement   decimal.Decimal   `json:"expectedMisstatement" yaml:"expectedMisstatement" validate:"gte=0"`
	TolerableDeviationRate float64           `json:"tolerableDeviationRate" yaml:"tolerableDeviationRate" validate:"gte=0,lte=1"`
	ExpectedDeviationRate  float64           `json:"expectedDeviationRate" yaml:"expectedDeviationRate" validate:"gte=0,lte=1"`
	ThresholdAmount        decimal.Decimal   `json:"thresholdAmount" yaml:"thresholdAmount" validate:"gte=0"`
	StrataBounds           []decimal.Decimal `json:"strataBounds,omitempty" yaml:"strataBounds,omitempty" validate:"dive,gte=0"`
	Seed                   uint64            `json:"seed" yaml:"seed"`
	UseHighRiskInclusion   bool              `json:"useHighRiskInclusion" yaml:"useHighRiskInclusion"`
}

var paramValidate *validator.Validate

func init() {
	paramValidate = validator.New()
	paramValidate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
}

// decimalValue exposes decimal fields to numeric tags such as gte.
func decimalValue(v reflect.Value) any {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

// SamplingParameters is a fully validated, immutable parameter set.
// The zero value is not usable; construct with NewSamplingParameters.
type SamplingParameters struct {
	spec ParameterSpec
}

// NewSamplingParameters validates a spec and returns the parameters the engine accepts.
// Partial or ambiguous combinations are rejected with a *ParameterError, never defaulted.
func NewSamplingParameters(spec ParameterSpec) (SamplingParameters, error) {
	if err := paramValidate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return SamplingParameters{}, invalidParam(fe.Field(), "failed %q constraint (value %v)", fe.Tag(), fe.Value())
		}
		return SamplingParameters{}, invalidParam("", "%v", err)
	}

	switch spec.TestType {
	case TestControl:
		if spec.TolerableDeviationRate <= 0 {
			return SamplingParameters{}, invalidParam("TolerableDeviationRate", "must be greater than 0 for control testing")
		}
		if spec.ExpectedDeviationRate >= 1 {
			return SamplingParameters{}, invalidParam("ExpectedDeviationRate", "must be less than 1")
		}
		if !spec.ExpectedMisstatement.IsZero() {
			return SamplingParameters{}, invalidParam("ExpectedMisstatement", "not applicable to control testing")
		}
		if spec.Method == MethodMonetaryUnit || spec.Method == MethodStratified {
			return SamplingParameters{}, invalidParam("Method", "%s is a substantive-only method", spec.Method)
		}
	case TestSubstantive:
		if spec.TolerableDeviationRate != 0 || spec.ExpectedDeviationRate != 0 {
			return SamplingParameters{}, invalidParam("TolerableDeviationRate", "deviation rates are not applicable to substantive testing")
		}
	}

	switch spec.Method {
	case MethodThreshold:
		if !spec.ThresholdAmount.IsPositive() {
			return SamplingParameters{}, invalidParam("ThresholdAmount", "must be greater than 0 for the threshold method")
		}
	case MethodStratified:
		if len(spec.StrataBounds) == 0 {
			return SamplingParameters{}, invalidParam("StrataBounds", "at least one bound is required for the stratified method")
		}
	}

	spec.StrataBounds = slices.Clone(spec.StrataBounds)
	return SamplingParameters{spec: spec}, nil
}

// MustSamplingParameters is NewSamplingParameters for fixed configurations; it panics on error.
func MustSamplingParameters(spec ParameterSpec) SamplingParameters {
	p, err := NewSamplingParameters(spec)
	if err != nil {
		panic(err)
	}
	return p
}

// TestType returns whether the parameters size a control or a substantive test.
func (p SamplingParameters) TestType() TestType { return p.spec.TestType }

// Method returns the selection method.
func (p SamplingParameters) Method() Method { return p.spec.Method }

// ConfidenceLevel returns the confidence level in percent (90, 95 or 99).
func (p SamplingParameters) ConfidenceLevel() int { return p.spec.ConfidenceLevel }

// Materiality returns the tolerable misstatement for substantive tests.
func (p SamplingParameters) Materiality() decimal.Decimal { return p.spec.Materiality }

// ExpectedMisstatement returns the misstatement anticipated in the population.
func (p SamplingParameters) ExpectedMisstatement() decimal.Decimal { return p.spec.ExpectedMisstatement }

// TolerableDeviationRate returns the maximum acceptable control deviation rate.
func (p SamplingParameters) TolerableDeviationRate() float64 { return p.spec.TolerableDeviationRate }

// ExpectedDeviationRate returns the control deviation rate anticipated in the population.
func (p SamplingParameters) ExpectedDeviationRate() float64 { return p.spec.ExpectedDeviationRate }

// ThresholdAmount returns the |amount| at or above which the threshold method selects.
func (p SamplingParameters) ThresholdAmount() decimal.Decimal { return p.spec.ThresholdAmount }

// Seed returns the seed of the selection streams.
func (p SamplingParameters) Seed() uint64 { return p.spec.Seed }

// UseHighRiskInclusion reports whether high-risk transactions are forced into the sample.
func (p SamplingParameters) UseHighRiskInclusion() bool { return p.spec.UseHighRiskInclusion }

// StrataBounds returns a copy of the stratum breakpoints.
func (p SamplingParameters) StrataBounds() []decimal.Decimal {
	return slices.Clone(p.spec.StrataBounds)
}

// Spec echoes the validated input for persistence.
func (p SamplingParameters) Spec() ParameterSpec {
	s := p.spec
	s.StrataBounds = slices.Clone(s.StrataBounds)
	return s
}

// HighRiskLimit is max(materiality, thresholdAmount), the amount above which
// a transaction is force-included.
func (p SamplingParameters) HighRiskLimit() decimal.Decimal {
	return decimal.Max(p.spec.Materiality, p.spec.ThresholdAmount)
}
