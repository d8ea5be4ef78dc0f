// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func checkLedger(tenantID string, ledger domain.LedgerKey) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ledger.ClientID == "" || ledger.FiscalYear <= 0 {
		return fmt.Errorf("%w: ledger %q requires a client id and a fiscal year", ErrInvalidInput, ledger)
	}
	return nil
}

// SaveTransactions upserts ledger lines by id and bumps the ledger's data version.
// It returns the new version. The whole import is one database transaction.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, ledger domain.LedgerKey, txs []domain.Transaction) (int64, error) {
	if err := checkLedger(tenantID, ledger); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		if tx.ID == "" {
			return 0, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
		}
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer dbtx.Rollback()

	insert := r.rebind(`
		INSERT INTO ledger_transactions (
			tenant_id, client_id, fiscal_year, id, txn_date,
			account_number, account_name, description, amount, risk_indicator
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, client_id, fiscal_year, id) DO UPDATE SET
			txn_date = excluded.txn_date,
			account_number = excluded.account_number,
			account_name = excluded.account_name,
			description = excluded.description,
			amount = excluded.amount,
			risk_indicator = excluded.risk_indicator
	`)
	stmt, err := dbtx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, tx := range txs {
		if _, err := stmt.ExecContext(ctx,
			tenantID, ledger.ClientID, ledger.FiscalYear, tx.ID, tx.Date.String(),
			tx.AccountNumber, tx.AccountName, tx.Description, tx.Amount.String(), string(tx.RiskIndicator),
		); err != nil {
			return 0, fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
		}
	}

	bump := r.rebind(`
		INSERT INTO ledger_versions (tenant_id, client_id, fiscal_year, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, client_id, fiscal_year) DO UPDATE SET
			version = ledger_versions.version + 1,
			updated_at = excluded.updated_at
	`)
	if _, err := dbtx.ExecContext(ctx, bump, tenantID, ledger.ClientID, ledger.FiscalYear, time.Now().UTC().UnixNano()); err != nil {
		return 0, fmt.Errorf("failed to bump ledger version: %w", err)
	}

	var version int64
	query := r.rebind(`SELECT version FROM ledger_versions WHERE tenant_id = ? AND client_id = ? AND fiscal_year = ?`)
	if err := dbtx.QueryRowContext(ctx, query, tenantID, ledger.ClientID, ledger.FiscalYear).Scan(&version); err != nil {
		return 0, err
	}

	if err := dbtx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// GetLedger returns every line of a ledger in (date, id) order together with its data version.
// An unknown ledger yields no transactions and version 0; the population filter reports it.
func (r *SQLRepository) GetLedger(ctx context.Context, tenantID string, ledger domain.LedgerKey) ([]domain.Transaction, int64, error) {
	if err := checkLedger(tenantID, ledger); err != nil {
		return nil, 0, err
	}

	var version int64
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT version FROM ledger_versions WHERE tenant_id = ? AND client_id = ? AND fiscal_year = ?`),
		tenantID, ledger.ClientID, ledger.FiscalYear,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, txn_date, account_number, account_name, description, amount, risk_indicator
		FROM ledger_transactions
		WHERE tenant_id = ? AND client_id = ? AND fiscal_year = ?
		ORDER BY txn_date, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, ledger.ClientID, ledger.FiscalYear)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			tx          domain.Transaction
			date        string
			amount      string
			risk        string
			description sql.NullString
		)
		if err := rows.Scan(&tx.ID, &date, &tx.AccountNumber, &tx.AccountName, &description, &amount, &risk); err != nil {
			return nil, 0, err
		}
		if tx.Date, err = civil.ParseDate(date); err != nil {
			return nil, 0, fmt.Errorf("failed to parse date of transaction %s: %w", tx.ID, err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, 0, fmt.Errorf("failed to parse amount of transaction %s: %w", tx.ID, err)
		}
		tx.Description = description.String
		tx.RiskIndicator = domain.RiskIndicator(risk)
		txs = append(txs, tx)
	}

	return txs, version, rows.Err()
}

// SaveAccountMappings replaces the client's standard-account mapping.
func (r *SQLRepository) SaveAccountMappings(ctx context.Context, tenantID string, clientID string, mappings []domain.AccountMapping) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if clientID == "" {
		return fmt.Errorf("%w: clientID is required", ErrInvalidInput)
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	if _, err := dbtx.ExecContext(ctx,
		r.rebind(`DELETE FROM account_mappings WHERE tenant_id = ? AND client_id = ?`),
		tenantID, clientID,
	); err != nil {
		return err
	}

	insert := r.rebind(`INSERT INTO account_mappings (tenant_id, client_id, standard_number, accounts) VALUES (?, ?, ?, ?)`)
	for _, m := range mappings {
		if m.StandardNumber == "" {
			return fmt.Errorf("%w: standardNumber is required", ErrInvalidInput)
		}
		accounts, err := json.Marshal(m.Accounts)
		if err != nil {
			return err
		}
		if _, err := dbtx.ExecContext(ctx, insert, tenantID, clientID, m.StandardNumber, string(accounts)); err != nil {
			return fmt.Errorf("failed to save mapping %s: %w", m.StandardNumber, err)
		}
	}

	return dbtx.Commit()
}

// GetAccountMappings returns the client's mapping. A client without mappings gets an empty map.
func (r *SQLRepository) GetAccountMappings(ctx context.Context, tenantID string, clientID string) (domain.StandardAccountMap, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT standard_number, accounts FROM account_mappings WHERE tenant_id = ? AND client_id = ?`),
		tenantID, clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mapping := make(domain.StandardAccountMap)
	for rows.Next() {
		var number, accounts string
		if err := rows.Scan(&number, &accounts); err != nil {
			return nil, err
		}
		var list []string
		if err := json.Unmarshal([]byte(accounts), &list); err != nil {
			return nil, fmt.Errorf("failed to parse accounts for %s: %w", number, err)
		}
		mapping[number] = list
	}

	return mapping, rows.Err()
}

// SaveSamplingRun stores a run. Runs are immutable; saving an existing id fails.
func (r *SQLRepository) SaveSamplingRun(ctx context.Context, tenantID string, run *domain.SamplingRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.Plan.ID == "" {
		return fmt.Errorf("%w: sampling run requires a plan id", ErrInvalidInput)
	}

	plan, err := json.Marshal(run.Plan)
	if err != nil {
		return err
	}
	items, err := json.Marshal(run.Items)
	if err != nil {
		return err
	}
	population, err := json.Marshal(run.Population)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sampling_runs (
			id, tenant_id, client_id, fiscal_year, method, test_type,
			data_version, generated_at, plan, items, population
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.Plan.ID, tenantID, run.Plan.Ledger.ClientID, run.Plan.Ledger.FiscalYear,
		string(run.Plan.Method), string(run.Plan.TestType),
		run.Plan.DataVersion, run.Plan.GeneratedAt.UTC().UnixNano(),
		string(plan), string(items), string(population),
	)
	return err
}

// GetSamplingRun retrieves a run with tenant isolation.
func (r *SQLRepository) GetSamplingRun(ctx context.Context, tenantID string, planID string) (*domain.SamplingRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT plan, items, population FROM sampling_runs WHERE tenant_id = ? AND id = ?`

	var plan, items, population string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, planID).Scan(&plan, &items, &population)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var run domain.SamplingRun
	if err := json.Unmarshal([]byte(plan), &run.Plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", planID, err)
	}
	if err := json.Unmarshal([]byte(items), &run.Items); err != nil {
		return nil, fmt.Errorf("failed to parse items of plan %s: %w", planID, err)
	}
	if err := json.Unmarshal([]byte(population), &run.Population); err != nil {
		return nil, fmt.Errorf("failed to parse population of plan %s: %w", planID, err)
	}

	return &run, nil
}

// ListSamplingPlans returns the plans generated for a ledger, newest first, without their items.
func (r *SQLRepository) ListSamplingPlans(ctx context.Context, tenantID string, ledger domain.LedgerKey) ([]*domain.SamplingPlan, error) {
	if err := checkLedger(tenantID, ledger); err != nil {
		return nil, err
	}

	query := `
		SELECT id, plan
		FROM sampling_runs
		WHERE tenant_id = ? AND client_id = ? AND fiscal_year = ?
		ORDER BY generated_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, ledger.ClientID, ledger.FiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.SamplingPlan
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var p domain.SamplingPlan
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", id, err)
		}
		plans = append(plans, &p)
	}

	return plans, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
