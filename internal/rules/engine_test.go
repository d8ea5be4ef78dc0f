package rules

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func testParams(t *testing.T) domain.SamplingParameters {
	t.Helper()
	p, err := domain.NewSamplingParameters(domain.ParameterSpec{
		TestType:        domain.TestSubstantive,
		Method:          domain.MethodSimpleRandom,
		ConfidenceLevel: 95,
		Materiality:     decimal.NewFromInt(10000),
	})
	if err != nil {
		t.Fatalf("invalid parameters: %v", err)
	}
	return p
}

func testTx(amount string, description string) domain.Transaction {
	return domain.Transaction{
		ID:            "tx-001",
		Date:          civil.Date{Year: 2024, Month: 12, Day: 31},
		AccountNumber: "6800",
		AccountName:   "Consulting fees",
		Description:   description,
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
	if _, ok := engine.Match(testTx("1", ""), testParams(t)); ok {
		t.Error("empty engine must not match")
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	err := engine.LoadRule(domain.HighRiskRule{
		ID:         "year-end",
		Expression: `date >= "2024-12-28"`,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRules(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name string
		rule domain.HighRiskRule
	}{
		{"syntax", domain.HighRiskRule{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"non-bool", domain.HighRiskRule{ID: "num", Expression: "abs_amount * 2.0"}},
		{"unknown variable", domain.HighRiskRule{ID: "var", Expression: "debtor_id == 'x'"}},
		{"missing id", domain.HighRiskRule{Expression: "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMatch(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	err := engine.LoadRules([]domain.HighRiskRule{
		{ID: "b-round-amount", Expression: "abs_amount >= 1000.0 && abs_amount == double(int(abs_amount))", Enabled: true},
		{ID: "a-manual-journal", Expression: `description.contains("manual")`, Enabled: true},
		{ID: "disabled", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected disabled rule to be skipped, got %d rules", engine.RulesCount())
	}

	params := testParams(t)

	id, ok := engine.Match(testTx("-5000", "manual adjustment"), params)
	if !ok || id != "a-manual-journal" {
		t.Errorf("expected first match in id order, got %q %v", id, ok)
	}

	id, ok = engine.Match(testTx("2000", "invoice"), params)
	if !ok || id != "b-round-amount" {
		t.Errorf("expected round amount match, got %q %v", id, ok)
	}

	if _, ok := engine.Match(testTx("123.45", "invoice"), params); ok {
		t.Error("expected no match")
	}
}

func TestMatchUsesParameters(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.LoadRule(domain.HighRiskRule{ID: "half-mat", Expression: "abs_amount > materiality / 2.0", Enabled: true}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if _, ok := engine.Match(testTx("6000", ""), testParams(t)); !ok {
		t.Error("expected 6000 > 10000/2 to match")
	}
	if _, ok := engine.Match(testTx("4000", ""), testParams(t)); ok {
		t.Error("expected 4000 not to match")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	_ = engine.LoadRule(domain.HighRiskRule{ID: "old", Expression: "true", Enabled: true})

	err := engine.ReloadRules([]domain.HighRiskRule{
		{ID: "new-1", Expression: "false", Enabled: true},
		{ID: "new-2", Expression: `risk == "high"`, Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}

	if err := engine.ReloadRules([]domain.HighRiskRule{{ID: "broken", Expression: "(", Enabled: true}}); err == nil {
		t.Error("expected reload with invalid rule to fail")
	}
	if engine.RulesCount() != 2 {
		t.Error("failed reload must keep previous rules")
	}
}
