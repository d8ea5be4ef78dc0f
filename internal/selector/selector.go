// Package selector picks the concrete transactions of an audit sample.
package selector

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// HighRiskMatcher is an optional extra high-risk predicate, such as compiled CEL rules.
type HighRiskMatcher interface {
	Match(tx domain.Transaction, params domain.SamplingParameters) (string, bool)
}

// Selector draws samples. It is stateless apart from its matcher and safe for concurrent use.
type Selector struct {
	matcher HighRiskMatcher
}

// New creates a selector. matcher may be nil.
func New(matcher HighRiskMatcher) *Selector {
	return &Selector{matcher: matcher}
}

// Select draws the sample for plan from txs. The same seed, transactions and
// parameters always yield the same ordered sample, whatever the input order.
// A recommended size of 0 yields an empty method selection, not an error.
func (s *Selector) Select(txs []domain.Transaction, plan domain.SizePlan, params domain.SamplingParameters) domain.Selection {
	canonical := slices.Clone(txs)
	domain.SortCanonical(canonical)

	if params.Method() == domain.MethodThreshold {
		return threshold(canonical, params.ThresholdAmount())
	}

	sel := domain.Selection{}
	chosen := make([]bool, len(canonical))
	forcedBy := make([]string, len(canonical))

	if params.UseHighRiskInclusion() {
		for i, tx := range canonical {
			if by, ok := s.highRisk(tx, params); ok {
				chosen[i] = true
				forcedBy[i] = by
				sel.ForcedCount++
			}
		}
		if sel.ForcedCount > plan.Recommended {
			sel.Conditions = append(sel.Conditions, domain.Condition{
				Code:   domain.CondHighRiskOverQuota,
				Detail: fmt.Sprintf("%d high-risk items exceed the recommended size of %d", sel.ForcedCount, plan.Recommended),
			})
		}
	}

	complement := make([]int, 0, len(canonical))
	for i := range canonical {
		if !chosen[i] {
			complement = append(complement, i)
		}
	}
	quota := max(0, plan.Recommended-sel.ForcedCount)

	hits := make([]int, len(canonical))
	stratum := make([]int, len(canonical))

	switch params.Method() {
	case domain.MethodSimpleRandom:
		for _, pos := range simpleRandom(len(complement), quota, newStream(params.Seed(), 0)) {
			chosen[complement[pos]] = true
		}
	case domain.MethodSystematic:
		for _, pos := range systematic(len(complement), quota, newStream(params.Seed(), 0)) {
			chosen[complement[pos]] = true
		}
	case domain.MethodMonetaryUnit:
		counts, width := monetaryUnit(canonical, complement, quota, newStream(params.Seed(), 0))
		for i, c := range counts {
			if c > 0 {
				chosen[i] = true
				hits[i] = c
			}
		}
		sel.Interval = width
	case domain.MethodStratified:
		sel.Strata = stratified(canonical, chosen, stratum, plan.Strata, params)
	}

	multiHit := false
	for i, tx := range canonical {
		if !chosen[i] {
			continue
		}
		item := domain.SampleItem{
			TransactionID: tx.ID,
			Transaction:   tx,
			Forced:        forcedBy[i] != "",
			ForcedBy:      forcedBy[i],
			Hits:          hits[i],
			MultiHit:      hits[i] > 1,
			Stratum:       stratum[i],
		}
		multiHit = multiHit || item.MultiHit
		sel.Items = append(sel.Items, item)
	}

	if params.Method() == domain.MethodStratified {
		slices.SortStableFunc(sel.Items, func(a, b domain.SampleItem) int { return a.Stratum - b.Stratum })
	}
	if multiHit {
		sel.Conditions = append(sel.Conditions, domain.Condition{
			Code:   domain.CondMultiHit,
			Detail: "one or more items exceed the sampling interval and were hit more than once",
		})
	}
	return sel
}

// IsHighRisk reports whether tx satisfies the forced-inclusion predicate and which source matched.
func (s *Selector) IsHighRisk(tx domain.Transaction, params domain.SamplingParameters) (string, bool) {
	return s.highRisk(tx, params)
}

func (s *Selector) highRisk(tx domain.Transaction, params domain.SamplingParameters) (string, bool) {
	if limit := params.HighRiskLimit(); limit.IsPositive() && tx.AbsAmount().GreaterThan(limit) {
		return domain.HighRiskByAmount, true
	}
	if tx.RiskIndicator == domain.RiskHigh {
		return domain.HighRiskByIndicator, true
	}
	if s.matcher != nil {
		return s.matcher.Match(tx, params)
	}
	return "", false
}

// threshold selects every transaction with |amount| >= limit, ignoring any recommended size.
func threshold(canonical []domain.Transaction, limit decimal.Decimal) domain.Selection {
	sel := domain.Selection{}
	for _, tx := range canonical {
		if tx.AbsAmount().GreaterThanOrEqual(limit) {
			sel.Items = append(sel.Items, domain.SampleItem{TransactionID: tx.ID, Transaction: tx})
		}
	}
	return sel
}

// simpleRandom returns n distinct positions in [0, size) from a seeded partial
// Fisher-Yates shuffle, in ascending order.
func simpleRandom(size, n int, st *stream) []int {
	n = min(n, size)
	if n <= 0 {
		return nil
	}
	perm := make([]int, size)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + st.intn(size-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	picked := perm[:n]
	slices.Sort(picked)
	return picked
}

// systematic returns n positions floor(start + k*size/n) with a seeded start in [0, size/n).
// Positions lost to rounding are refilled from the tail.
func systematic(size, n int, st *stream) []int {
	n = min(n, size)
	if n <= 0 {
		return nil
	}
	if n == size {
		picked := make([]int, size)
		for i := range picked {
			picked[i] = i
		}
		return picked
	}

	interval := float64(size) / float64(n)
	start := st.float64() * interval

	taken := make([]bool, size)
	picked := make([]int, 0, n)
	for k := 0; k < n; k++ {
		pos := min(int(math.Floor(start+float64(k)*interval)), size-1)
		if !taken[pos] {
			taken[pos] = true
			picked = append(picked, pos)
		}
	}
	for pos := size - 1; len(picked) < n && pos >= 0; pos-- {
		if !taken[pos] {
			taken[pos] = true
			picked = append(picked, pos)
		}
	}
	slices.Sort(picked)
	return picked
}

// monetaryUnit lays the complement's |amount| values on a cumulative number line,
// splits it into n equal intervals, and draws one seeded point per interval.
// It returns the hit count per canonical index and the interval width.
func monetaryUnit(canonical []domain.Transaction, complement []int, n int, st *stream) ([]int, *decimal.Decimal) {
	counts := make([]int, len(canonical))
	if n <= 0 || len(complement) == 0 {
		return counts, nil
	}

	// ends[j] is the exclusive upper edge of complement[j]'s range.
	ends := make([]decimal.Decimal, len(complement))
	total := decimal.Zero
	for j, idx := range complement {
		total = total.Add(canonical[idx].AbsAmount())
		ends[j] = total
	}
	if total.IsZero() {
		return counts, nil
	}

	width := total.Div(decimal.NewFromInt(int64(n)))
	for i := 0; i < n; i++ {
		point := decimal.NewFromInt(int64(i)).Add(decimal.NewFromFloat(st.float64())).Mul(width)
		j := sort.Search(len(ends), func(k int) bool { return point.LessThan(ends[k]) })
		if j == len(ends) {
			j = len(ends) - 1
		}
		counts[complement[j]]++
	}
	return counts, &width
}

// stratified runs simple random selection independently inside each stratum.
// High-risk items already chosen count against their own stratum's quota.
func stratified(canonical []domain.Transaction, chosen []bool, stratum []int, allocs []domain.StratumAllocation, params domain.SamplingParameters) []domain.StratumAllocation {
	bounds := domain.StrataBounds(params.StrataBounds())
	if len(allocs) == 0 {
		allocs = domain.Stratify(canonical, bounds)
	}
	out := slices.Clone(allocs)

	members := make([][]int, len(out))
	forced := make([]int, len(out))
	for i, tx := range canonical {
		s := bounds.IndexOf(tx.AbsAmount())
		stratum[i] = s
		if chosen[i] {
			forced[s]++
			continue
		}
		members[s] = append(members[s], i)
	}

	for s := range out {
		quota := max(0, out[s].Recommended-forced[s])
		for _, pos := range simpleRandom(len(members[s]), quota, newStream(params.Seed(), s+1)) {
			chosen[members[s][pos]] = true
		}
		out[s].Selected = forced[s] + min(quota, len(members[s]))
	}
	return out
}
