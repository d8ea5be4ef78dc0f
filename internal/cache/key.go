package cache

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// runKeyFields is the hashed identity of a sampling result.
// Decimals are carried as canonical strings since hashstructure skips unexported fields.
type runKeyFields struct {
	ClientID    string
	FiscalYear  int
	DataVersion int64

	Included []string
	Excluded []string

	TestType               string
	Method                 string
	ConfidenceLevel        int
	Materiality            string
	ExpectedMisstatement   string
	TolerableDeviationRate float64
	ExpectedDeviationRate  float64
	ThresholdAmount        string
	StrataBounds           []string
	Seed                   uint64
	UseHighRiskInclusion   bool

	// Engine identifies the factor table and rule set that produced the result.
	Engine string
}

// RunKey derives the cache key of a sampling run. Two requests share a key exactly
// when they would produce the same sample: same ledger data version, same normalized
// scope, same parameters and same engine fingerprint. The tenant is added by the cache.
func RunKey(ledger domain.LedgerKey, dataVersion int64, scope domain.PopulationScope, spec domain.ParameterSpec, engine string) (string, error) {
	scope = scope.Normalized()

	bounds := make([]string, len(spec.StrataBounds))
	for i, b := range spec.StrataBounds {
		bounds[i] = b.String()
	}

	fields := runKeyFields{
		ClientID:               ledger.ClientID,
		FiscalYear:             ledger.FiscalYear,
		DataVersion:            dataVersion,
		Included:               scope.IncludedStandardNumbers,
		Excluded:               scope.ExcludedAccounts,
		TestType:               string(spec.TestType),
		Method:                 string(spec.Method),
		ConfidenceLevel:        spec.ConfidenceLevel,
		Materiality:            spec.Materiality.String(),
		ExpectedMisstatement:   spec.ExpectedMisstatement.String(),
		TolerableDeviationRate: spec.TolerableDeviationRate,
		ExpectedDeviationRate:  spec.ExpectedDeviationRate,
		ThresholdAmount:        spec.ThresholdAmount.String(),
		StrataBounds:           bounds,
		Seed:                   spec.Seed,
		UseHighRiskInclusion:   spec.UseHighRiskInclusion,
		Engine:                 engine,
	}

	h, err := hashstructure.Hash(fields, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hash run key: %w", err)
	}
	return fmt.Sprintf("run:%016x", h), nil
}
