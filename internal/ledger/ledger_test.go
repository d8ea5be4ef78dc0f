package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func TestReadCSV(t *testing.T) {
	t.Run("AmountColumn", func(t *testing.T) {
		in := "ID,Date,Account Number,Account Name,Description,Amount,Risk Indicator\n" +
			"gl-1,2024-01-15,3000,Revenue,Invoice 1001,1250.00,high\n" +
			"gl-2,2024-02-01,3010,Revenue,\"Credit note, March\",-75.50,\n" +
			",,,,,,\n"

		txs, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txs))
		}
		if txs[0].RiskIndicator != "high" || txs[0].AccountNumber != "3000" {
			t.Errorf("unexpected first row %+v", txs[0])
		}
		if txs[1].Description != "Credit note, March" || txs[1].Amount != "-75.50" {
			t.Errorf("unexpected second row %+v", txs[1])
		}

		tx, err := txs[1].ToTransaction()
		if err != nil {
			t.Fatalf("ToTransaction failed: %v", err)
		}
		if !tx.Amount.Equal(decimal.RequireFromString("-75.5")) {
			t.Errorf("expected -75.5, got %s", tx.Amount)
		}
	})

	t.Run("DebitCredit", func(t *testing.T) {
		in := "id,date,account_number,debit,credit\n" +
			"a,2024-03-01,4000,100.00,\n" +
			"b,2024-03-02,4000,,40.25\n"

		txs, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		got := []string{txs[0].Amount, txs[1].Amount}
		if !slices.Equal(got, []string{"100", "-40.25"}) {
			t.Errorf("unexpected amounts %v", got)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		cases := map[string]string{
			"Empty":         "",
			"MissingID":     "date,account_number,amount\n2024-01-01,3000,1\n",
			"MissingAmount": "id,date,account_number\na,2024-01-01,3000\n",
			"BadDebit":      "id,date,account_number,debit,credit\na,2024-01-01,3000,abc,\n",
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				if _, err := ReadCSV(strings.NewReader(in)); !errors.Is(err, domain.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			})
		}
	})
}

const jobYAML = `
ledger:
  clientId: acme
  fiscalYear: 2024
mappings:
  - standardNumber: REV
    accounts: ["3000", "3010"]
scope:
  includedStandardNumbers: [REV]
  excludedAccounts: ["3010"]
parameters:
  testType: substantive
  method: stratified
  confidenceLevel: 95
  materiality: "125000.50"
  strataBounds: [1000, 10000]
  seed: 42
  useHighRiskInclusion: true
`

func TestLoadJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(jobYAML), 0o644); err != nil {
		t.Fatalf("write job: %v", err)
	}

	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob failed: %v", err)
	}

	if job.Key() != (domain.LedgerKey{ClientID: "acme", FiscalYear: 2024}) {
		t.Errorf("unexpected ledger %+v", job.Key())
	}
	if got := job.Resolver().Resolve([]string{"REV"}); !slices.Equal(got, []string{"3000", "3010"}) {
		t.Errorf("unexpected resolution %v", got)
	}

	p := job.Parameters
	if p.Method != domain.MethodStratified || p.ConfidenceLevel != 95 || p.Seed != 42 || !p.UseHighRiskInclusion {
		t.Errorf("unexpected parameters %+v", p)
	}
	if !p.Materiality.Equal(decimal.RequireFromString("125000.5")) {
		t.Errorf("expected materiality 125000.5, got %s", p.Materiality)
	}
	if len(p.StrataBounds) != 2 || !p.StrataBounds[1].Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected strata bounds %v", p.StrataBounds)
	}
	if _, err := domain.NewSamplingParameters(p); err != nil {
		t.Errorf("job parameters rejected: %v", err)
	}
}

func TestParseJobErrors(t *testing.T) {
	if _, err := ParseJob([]byte("scope: [unterminated")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad YAML, got %v", err)
	}
	if _, err := ParseJob([]byte("ledger:\n  clientId: acme\n")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty scope, got %v", err)
	}

	job, err := ParseJob([]byte("scope:\n  includedStandardNumbers: [\"3000\"]\n"))
	if err != nil {
		t.Fatalf("ParseJob failed: %v", err)
	}
	if job.Resolver() != nil {
		t.Error("a job without mappings must resolve accounts directly")
	}
}
