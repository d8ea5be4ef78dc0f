package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func ledgerCSV(n int) string {
	var b strings.Builder
	b.WriteString("id,date,account_number,account_name,amount\n")
	for i := 0; i < n; i++ {
		account := "3000"
		if i%2 == 1 {
			account = "7000"
		}
		fmt.Fprintf(&b, "gl-%03d,2024-%02d-10,%s,Sales,%d.00\n", i, 1+i%12, account, 100+i*13)
	}
	return b.String()
}

const systematicJob = `
ledger: {clientId: acme, fiscalYear: 2024}
mappings:
  - standardNumber: REV
    accounts: ["3000"]
scope:
  includedStandardNumbers: [REV]
parameters:
  testType: substantive
  method: systematic
  confidenceLevel: 90
  materiality: 5000
  seed: 5
`

func TestRun(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := writeFile(t, dir, "gl.csv", ledgerCSV(100))
	jobPath := writeFile(t, dir, "job.yaml", systematicJob)

	var first, second bytes.Buffer
	if err := run(ledgerPath, jobPath, "", true, &first); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := run(ledgerPath, jobPath, "", true, &second); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var a, b domain.SamplingRun
	if err := json.Unmarshal(first.Bytes(), &a); err != nil {
		t.Fatalf("invalid output: %v", err)
	}
	json.Unmarshal(second.Bytes(), &b)

	if a.Plan.PopulationSize != 50 {
		t.Errorf("expected population 50, got %d", a.Plan.PopulationSize)
	}
	if len(a.Items) != a.Plan.ActualSampleSize || len(a.Items) == 0 {
		t.Errorf("expected %d items, got %d", a.Plan.ActualSampleSize, len(a.Items))
	}
	for i := range a.Items {
		if a.Items[i].TransactionID != b.Items[i].TransactionID {
			t.Fatal("same seed must reproduce the same sample")
		}
	}
}

func TestRunWithoutItems(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := writeFile(t, dir, "gl.csv", ledgerCSV(20))
	jobPath := writeFile(t, dir, "job.yaml", systematicJob)

	var out bytes.Buffer
	if err := run(ledgerPath, jobPath, "", false, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var result domain.SamplingRun
	json.Unmarshal(out.Bytes(), &result)
	if len(result.Items) != 0 {
		t.Errorf("expected no items, got %d", len(result.Items))
	}
	if result.Plan.ID == "" {
		t.Error("expected a plan")
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := writeFile(t, dir, "gl.csv", "id,date,account_number,amount\na,2024-01-01,3000,1\na,2024-01-02,3000,2\n")
	jobPath := writeFile(t, dir, "job.yaml", systematicJob)

	if err := run(ledgerPath, jobPath, "", true, &bytes.Buffer{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for duplicate ids, got %v", err)
	}

	badJob := writeFile(t, dir, "bad.yaml", strings.Replace(systematicJob, "confidenceLevel: 90", "confidenceLevel: 80", 1))
	if err := run(ledgerPath, badJob, "", true, &bytes.Buffer{}); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("expected ErrInvalidParameters, got %v", err)
	}
}
