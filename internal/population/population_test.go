package population

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func tx(id, account, amount string) domain.Transaction {
	return domain.Transaction{
		ID:            id,
		Date:          civil.Date{Year: 2024, Month: 3, Day: 1},
		AccountNumber: account,
		Amount:        decimal.RequireFromString(amount),
	}
}

var mapping = domain.StandardAccountMap{
	"3000": {"3000", "3010"},
	"4000": {"4000"},
	"9999": {},
}

func TestComputeEmptyReasons(t *testing.T) {
	ledger := []domain.Transaction{
		tx("a", "3000", "100"),
		tx("b", "3010", "-50"),
		tx("c", "4000", "25"),
	}

	tests := []struct {
		name   string
		txs    []domain.Transaction
		scope  domain.PopulationScope
		reason domain.EmptyReason
	}{
		{"no scope", ledger, domain.PopulationScope{}, domain.ReasonNoScopeSelected},
		{"unmapped standard number", ledger, domain.PopulationScope{IncludedStandardNumbers: []string{"9999"}}, domain.ReasonNoScopeSelected},
		{"no data", nil, domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}}, domain.ReasonNoDataForPeriod},
		{"no matching accounts", []domain.Transaction{tx("x", "5000", "10")}, domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}}, domain.ReasonNoMatchingAccts},
		{"all excluded", ledger, domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}, ExcludedAccounts: []string{"3000", "3010"}}, domain.ReasonAllExcluded},
		{"zero balances", []domain.Transaction{tx("z1", "4000", "0"), tx("z2", "4000", "0.00")}, domain.PopulationScope{IncludedStandardNumbers: []string{"4000"}}, domain.ReasonZeroBalances},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pop := Compute(tt.txs, tt.scope, mapping)
			if !pop.IsEmpty {
				t.Error("expected empty population")
			}
			if pop.EmptyReason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, pop.EmptyReason)
			}
			if !pop.Sum.IsZero() {
				t.Errorf("expected zero sum, got %s", pop.Sum)
			}
		})
	}
}

func TestComputeAbsoluteSum(t *testing.T) {
	ledger := []domain.Transaction{
		tx("a", "3000", "100"),
		tx("b", "3010", "-100"),
		tx("c", "4000", "25"),
	}

	pop := Compute(ledger, domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}}, mapping)

	if pop.IsEmpty {
		t.Fatalf("unexpected empty population: %s", pop.EmptyReason)
	}
	if pop.EmptyReason != domain.ReasonNone {
		t.Errorf("expected reason none, got %s", pop.EmptyReason)
	}
	if pop.Size != 2 {
		t.Errorf("expected size 2, got %d", pop.Size)
	}
	if !pop.Sum.Equal(decimal.NewFromInt(200)) {
		t.Errorf("debits and credits must not cancel: expected 200, got %s", pop.Sum)
	}
}

func TestComputeExclusionWins(t *testing.T) {
	ledger := []domain.Transaction{
		tx("a", "3000", "100"),
		tx("b", "3010", "40"),
	}
	scope := domain.PopulationScope{
		IncludedStandardNumbers: []string{"3000"},
		ExcludedAccounts:        []string{"3010"},
	}

	pop := Compute(ledger, scope, mapping)

	if pop.Size != 1 || pop.Transactions[0].ID != "a" {
		t.Fatalf("expected only transaction a, got %+v", pop.Transactions)
	}
	if !pop.Sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected post-exclusion sum 100, got %s", pop.Sum)
	}
}

func TestComputeSizeByAccounts(t *testing.T) {
	ledger := []domain.Transaction{
		tx("a", "3000", "1"),
		tx("b", "3000", "2"),
		tx("c", "3010", "3"),
	}
	scope := domain.PopulationScope{
		IncludedStandardNumbers: []string{"3000"},
		SizeBasis:               domain.SizeByAccounts,
	}

	pop := Compute(ledger, scope, mapping)

	if pop.Size != 2 {
		t.Errorf("expected 2 distinct accounts, got %d", pop.Size)
	}
	if len(pop.Transactions) != 3 {
		t.Errorf("expected 3 qualifying transactions, got %d", len(pop.Transactions))
	}
}

func TestComputeIdempotent(t *testing.T) {
	ledger := []domain.Transaction{
		tx("c", "3000", "3"),
		tx("a", "3000", "1"),
		tx("b", "3010", "-2"),
	}
	scope := domain.PopulationScope{IncludedStandardNumbers: []string{"3000"}}

	first := Compute(ledger, scope, mapping)
	second := Compute(ledger, scope, mapping)

	if first.Size != second.Size || !first.Sum.Equal(second.Sum) || first.EmptyReason != second.EmptyReason {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
	for i := range first.Transactions {
		if first.Transactions[i].ID != second.Transactions[i].ID {
			t.Errorf("order differs at %d", i)
		}
	}
	if ledger[0].ID != "c" {
		t.Error("input slice must not be reordered")
	}
}

func TestComputeNilResolver(t *testing.T) {
	ledger := []domain.Transaction{tx("a", "3000", "5"), tx("b", "4000", "6")}

	pop := Compute(ledger, domain.PopulationScope{IncludedStandardNumbers: []string{"4000"}}, nil)

	if pop.Size != 1 || pop.Transactions[0].ID != "b" {
		t.Errorf("expected identity resolution to select b, got %+v", pop.Transactions)
	}
}
