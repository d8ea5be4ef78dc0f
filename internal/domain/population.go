package domain

import (
	"slices"

	"github.com/shopspring/decimal"
)

// SizeBasis selects what Population.Size counts.
type SizeBasis string

const (
	SizeByTransactions SizeBasis = "transactions"
	SizeByAccounts     SizeBasis = "accounts"
)

// PopulationScope selects which ledger accounts form the population.
// Exclusions are applied after inclusion expansion; an account in both sets is excluded.
type PopulationScope struct {
	IncludedStandardNumbers []string  `json:"includedStandardNumbers" yaml:"includedStandardNumbers"`
	ExcludedAccounts        []string  `json:"excludedAccounts,omitempty" yaml:"excludedAccounts,omitempty"`
	SizeBasis               SizeBasis `json:"sizeBasis,omitempty" yaml:"sizeBasis,omitempty"`
}

// Normalized returns a copy with sorted, de-duplicated sets so that
// equivalent scopes hash to the same cache key.
func (s PopulationScope) Normalized() PopulationScope {
	out := PopulationScope{
		IncludedStandardNumbers: sortedUnique(s.IncludedStandardNumbers),
		ExcludedAccounts:        sortedUnique(s.ExcludedAccounts),
		SizeBasis:               s.SizeBasis,
	}
	if out.SizeBasis == "" {
		out.SizeBasis = SizeByTransactions
	}
	return out
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// AccountResolver maps standard-account numbers to concrete ledger account numbers.
type AccountResolver interface {
	Resolve(standardNumbers []string) []string
}

// StandardAccountMap is an in-memory AccountResolver keyed by standard-account number.
type StandardAccountMap map[string][]string

// Resolve returns the concrete accounts mapped from the given standard numbers, sorted and unique.
func (m StandardAccountMap) Resolve(standardNumbers []string) []string {
	var out []string
	for _, std := range standardNumbers {
		out = append(out, m[std]...)
	}
	return sortedUnique(out)
}

// AccountMapping links one standard-account line to the concrete accounts of a client.
type AccountMapping struct {
	StandardNumber string   `json:"standardNumber"`
	Accounts       []string `json:"accounts"`
}

// EmptyReason explains why a population is empty.
type EmptyReason string

const (
	ReasonNone            EmptyReason = "none"
	ReasonNoScopeSelected EmptyReason = "no-scope-selected"
	ReasonNoMatchingAccts EmptyReason = "no-matching-accounts"
	ReasonZeroBalances    EmptyReason = "zero-balances"
	ReasonAllExcluded     EmptyReason = "all-excluded"
	ReasonNoDataForPeriod EmptyReason = "no-data-for-period"
)

// Population is the filtered set of transactions eligible for sampling.
// It is recomputed wholesale whenever scope or transactions change.
type Population struct {
	Transactions []Transaction   `json:"-"`
	Size         int             `json:"size"`
	Sum          decimal.Decimal `json:"sum"` // sum of |amount|
	IsEmpty      bool            `json:"isEmpty"`
	EmptyReason  EmptyReason     `json:"emptyReason"`
}

// MaxAbsAmount returns the largest |amount| in the population.
func (p *Population) MaxAbsAmount() decimal.Decimal {
	m := decimal.Zero
	for _, tx := range p.Transactions {
		if a := tx.AbsAmount(); a.GreaterThan(m) {
			m = a
		}
	}
	return m
}

// PopulationSummary is the persisted view of a population.
type PopulationSummary struct {
	Size        int             `json:"size"`
	Sum         decimal.Decimal `json:"sum"`
	IsEmpty     bool            `json:"isEmpty"`
	EmptyReason EmptyReason     `json:"emptyReason"`
}

// Summary drops the transaction list.
func (p *Population) Summary() PopulationSummary {
	return PopulationSummary{
		Size:        p.Size,
		Sum:         p.Sum,
		IsEmpty:     p.IsEmpty,
		EmptyReason: p.EmptyReason,
	}
}
