// Package ledger reads general ledger exports and sampling job files for offline runs.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Column names after normalization (lower case, no spaces, dashes or underscores).
const (
	colID          = "id"
	colDate        = "date"
	colAccount     = "accountnumber"
	colAccountName = "accountname"
	colDescription = "description"
	colAmount      = "amount"
	colDebit       = "debit"
	colCredit      = "credit"
	colRisk        = "riskindicator"
)

// ReadCSV parses a ledger export with a header row. It requires id, date,
// account number and either an amount column or debit and credit columns,
// in which case the amount is debit minus credit.
func ReadCSV(r io.Reader) ([]domain.TransactionRequest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: ledger file is empty", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[normalize(name)] = i
	}
	for _, required := range []string{colID, colDate, colAccount} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: ledger header is missing %q", domain.ErrInvalidInput, required)
		}
	}
	_, hasAmount := cols[colAmount]
	_, hasDebit := cols[colDebit]
	_, hasCredit := cols[colCredit]
	if !hasAmount && !(hasDebit && hasCredit) {
		return nil, fmt.Errorf("%w: ledger header needs an amount column or debit and credit columns", domain.ErrInvalidInput)
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var out []domain.TransactionRequest
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidInput, line, err)
		}
		if blank(record) {
			continue
		}

		amount := field(record, colAmount)
		if !hasAmount {
			amount, err = net(field(record, colDebit), field(record, colCredit))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidInput, line, err)
			}
		}

		out = append(out, domain.TransactionRequest{
			ID:            field(record, colID),
			Date:          field(record, colDate),
			AccountNumber: field(record, colAccount),
			AccountName:   field(record, colAccountName),
			Description:   field(record, colDescription),
			Amount:        amount,
			RiskIndicator: field(record, colRisk),
		})
	}
	return out, nil
}

func net(debit, credit string) (string, error) {
	d, err := parseOptional(debit)
	if err != nil {
		return "", fmt.Errorf("invalid debit %q", debit)
	}
	c, err := parseOptional(credit)
	if err != nil {
		return "", fmt.Errorf("invalid credit %q", credit)
	}
	return d.Sub(c).String(), nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(name)
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
