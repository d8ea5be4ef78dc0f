package planner

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ConfidenceLevels are the supported confidence levels in ascending order.
var ConfidenceLevels = []int{90, 95, 99}

// Factors is the planner's constant table.
//
// Reliability factors are the Poisson upper-limit factors for zero misstatements
// (AICPA Audit Sampling guide): 2.31 at 90%, 3.00 at 95%, 4.61 at 99%.
// Expansion factors scale expected misstatement in monetary unit sampling:
// 1.5 at 90%, 1.6 at 95%, 1.9 at 99%.
type Factors struct {
	Reliability map[int]float64
	Expansion   map[int]float64
	ControlCap  int
}

// DefaultFactors returns the published table.
func DefaultFactors() Factors {
	return FactorsFromConfig(domain.DefaultSamplingConfig())
}

// FactorsFromConfig lifts the factor table out of the sampling config.
func FactorsFromConfig(cfg domain.SamplingConfig) Factors {
	return Factors{
		Reliability: cfg.ReliabilityFactors,
		Expansion:   cfg.ExpansionFactors,
		ControlCap:  cfg.ControlSizeCap,
	}
}

// Validate rejects tables that would break monotonicity in confidence.
func (f Factors) Validate() error {
	if err := increasing("reliability", f.Reliability); err != nil {
		return err
	}
	if err := increasing("expansion", f.Expansion); err != nil {
		return err
	}
	if f.ControlCap <= 0 {
		return fmt.Errorf("%w: control size cap must be positive", domain.ErrInvalidInput)
	}
	return nil
}

func increasing(name string, table map[int]float64) error {
	prev := 0.0
	for _, level := range ConfidenceLevels {
		v, ok := table[level]
		if !ok {
			return fmt.Errorf("%w: %s factor missing for %d%% confidence", domain.ErrInvalidInput, name, level)
		}
		if v <= prev {
			return fmt.Errorf("%w: %s factors must be positive and strictly increasing with confidence", domain.ErrInvalidInput, name)
		}
		prev = v
	}
	return nil
}
