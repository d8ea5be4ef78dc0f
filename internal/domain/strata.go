package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// StrataBounds are increasing breakpoints b0 < b1 < ... < bm on |amount|.
// They define m+2 strata: [0,b0), [b0,b1), ..., [bm,∞).
type StrataBounds []decimal.Decimal

// Validate reports the first negative or non-increasing bound.
func (b StrataBounds) Validate() error {
	for i, bound := range b {
		if bound.IsNegative() {
			return invalidParam("StrataBounds", "bound %d (%s) is negative", i, bound)
		}
		if i > 0 && !bound.GreaterThan(b[i-1]) {
			return invalidParam("StrataBounds", "bounds must be strictly increasing: %s follows %s", bound, b[i-1])
		}
	}
	return nil
}

// Count returns the number of strata the bounds define.
func (b StrataBounds) Count() int {
	return len(b) + 1
}

// IndexOf returns the stratum an absolute amount falls into.
func (b StrataBounds) IndexOf(abs decimal.Decimal) int {
	return sort.Search(len(b), func(i int) bool { return abs.LessThan(b[i]) })
}

// Range returns the [lower, upper) edges of stratum i; upper is nil for the top stratum.
func (b StrataBounds) Range(i int) (decimal.Decimal, *decimal.Decimal) {
	lower := decimal.Zero
	if i > 0 {
		lower = b[i-1]
	}
	if i >= len(b) {
		return lower, nil
	}
	upper := b[i]
	return lower, &upper
}

// Stratify partitions transactions into the strata defined by b and
// returns per-stratum counts and absolute sums.
func Stratify(txs []Transaction, b StrataBounds) []StratumAllocation {
	strata := make([]StratumAllocation, b.Count())
	for i := range strata {
		lower, upper := b.Range(i)
		strata[i] = StratumAllocation{Index: i, Lower: lower, Upper: upper, Sum: decimal.Zero}
	}
	for _, tx := range txs {
		abs := tx.AbsAmount()
		s := &strata[b.IndexOf(abs)]
		s.Count++
		s.Sum = s.Sum.Add(abs)
	}
	return strata
}
