// Package population scopes a ledger down to the transactions eligible for sampling.
package population

import (
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// identity treats included standard numbers as concrete account numbers.
type identity struct{}

func (identity) Resolve(numbers []string) []string {
	out := slices.Clone(numbers)
	slices.Sort(out)
	return slices.Compact(out)
}

// Compute filters transactions to the population described by scope.
// A nil resolver maps standard numbers to themselves.
// The result is a pure function of its inputs; the transaction slice is not modified.
func Compute(txs []domain.Transaction, scope domain.PopulationScope, resolver domain.AccountResolver) domain.Population {
	if resolver == nil {
		resolver = identity{}
	}

	included := resolver.Resolve(scope.IncludedStandardNumbers)
	if len(included) == 0 {
		return empty(domain.ReasonNoScopeSelected)
	}
	if len(txs) == 0 {
		return empty(domain.ReasonNoDataForPeriod)
	}

	include := toSet(included)
	exclude := toSet(scope.ExcludedAccounts)

	matched := false
	qualifying := make([]domain.Transaction, 0, len(txs))
	accounts := make(map[string]struct{})
	for _, tx := range txs {
		if _, ok := include[tx.AccountNumber]; !ok {
			continue
		}
		matched = true
		if _, ok := exclude[tx.AccountNumber]; ok {
			continue
		}
		qualifying = append(qualifying, tx)
		accounts[tx.AccountNumber] = struct{}{}
	}

	if !matched {
		return empty(domain.ReasonNoMatchingAccts)
	}
	if len(qualifying) == 0 {
		return empty(domain.ReasonAllExcluded)
	}

	domain.SortCanonical(qualifying)

	sum := decimal.Zero
	allZero := true
	for _, tx := range qualifying {
		sum = sum.Add(tx.AbsAmount())
		if !tx.Amount.IsZero() {
			allZero = false
		}
	}

	pop := domain.Population{
		Transactions: qualifying,
		Size:         len(qualifying),
		Sum:          sum,
		EmptyReason:  domain.ReasonNone,
	}
	if scope.SizeBasis == domain.SizeByAccounts {
		pop.Size = len(accounts)
	}
	if allZero && sum.Round(2).IsZero() {
		pop.IsEmpty = true
		pop.EmptyReason = domain.ReasonZeroBalances
	}
	return pop
}

func empty(reason domain.EmptyReason) domain.Population {
	return domain.Population{
		Sum:         decimal.Zero,
		IsEmpty:     true,
		EmptyReason: reason,
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
