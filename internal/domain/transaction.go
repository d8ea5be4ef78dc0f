package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is a general-ledger line supplied by the ledger collaborator.
// The engine never mutates a Transaction; samples reference them by ID.
type Transaction struct {
	ID            string          `json:"id"`
	Date          civil.Date      `json:"date"`
	AccountNumber string          `json:"accountNumber"`
	AccountName   string          `json:"accountName"`
	Description   string          `json:"description,omitempty"`
	Amount        decimal.Decimal `json:"amount"` // signed net amount
	RiskIndicator RiskIndicator   `json:"riskIndicator,omitempty"`
}

// AbsAmount returns |Amount|, the value used for sums, coverage and MUS.
func (t Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// RiskIndicator is an optional precomputed risk flag on a transaction.
type RiskIndicator string

const (
	RiskNone   RiskIndicator = ""
	RiskLow    RiskIndicator = "low"
	RiskMedium RiskIndicator = "medium"
	RiskHigh   RiskIndicator = "high"
)

// ParseRiskIndicator normalizes a free-form indicator value.
func ParseRiskIndicator(s string) (RiskIndicator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RiskNone, nil
	case "low":
		return RiskLow, nil
	case "medium", "med":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskNone, fmt.Errorf("%w: unknown risk indicator %q", ErrInvalidInput, s)
	}
}

// LedgerKey identifies one client's ledger for one fiscal year.
type LedgerKey struct {
	ClientID   string `json:"clientId"`
	FiscalYear int    `json:"fiscalYear"`
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%d", k.ClientID, k.FiscalYear)
}

// TransactionRequest is the API payload for one imported ledger line.
type TransactionRequest struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Description   string `json:"description,omitempty"`
	Amount        string `json:"amount"`
	RiskIndicator string `json:"riskIndicator,omitempty"`
}

// ToTransaction parses a request into a Transaction.
// Dates must be calendar dates (YYYY-MM-DD); RFC 3339 timestamps are truncated to their date.
func (r *TransactionRequest) ToTransaction() (Transaction, error) {
	if r.ID == "" {
		return Transaction{}, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if r.AccountNumber == "" {
		return Transaction{}, fmt.Errorf("%w: transaction %s: accountNumber is required", ErrInvalidInput, r.ID)
	}

	date, err := ParseDate(r.Date)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: transaction %s: %v", ErrInvalidInput, r.ID, err)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: transaction %s: invalid amount %q", ErrInvalidInput, r.ID, r.Amount)
	}

	risk, err := ParseRiskIndicator(r.RiskIndicator)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
	}

	return Transaction{
		ID:            r.ID,
		Date:          date,
		AccountNumber: strings.TrimSpace(r.AccountNumber),
		AccountName:   r.AccountName,
		Description:   r.Description,
		Amount:        amount,
		RiskIndicator: risk,
	}, nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return civil.DateOf(ts), nil
	}
	return civil.Date{}, fmt.Errorf("invalid date %q", s)
}

// SortCanonical orders transactions by (date, id) in place.
// Every selection method starts from this order so that input order never affects a sample.
func SortCanonical(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case b.Date.Before(a.Date):
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}
