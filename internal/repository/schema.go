package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaLedgerTransactions = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    fiscal_year INTEGER NOT NULL,
    id TEXT NOT NULL,
    txn_date TEXT NOT NULL,
    account_number TEXT NOT NULL,
    account_name TEXT NOT NULL,
    description TEXT,
    amount TEXT NOT NULL,
    risk_indicator TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, client_id, fiscal_year, id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account ON ledger_transactions(tenant_id, client_id, fiscal_year, account_number);
`

// schemaLedgerVersions tracks one counter per ledger, bumped on every import.
// Cached sampling results are keyed by it.
const schemaLedgerVersions = `
CREATE TABLE IF NOT EXISTS ledger_versions (
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    fiscal_year INTEGER NOT NULL,
    version BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, client_id, fiscal_year)
);
`

const schemaAccountMappings = `
CREATE TABLE IF NOT EXISTS account_mappings (
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    standard_number TEXT NOT NULL,
    accounts TEXT NOT NULL,
    PRIMARY KEY (tenant_id, client_id, standard_number)
);
`

const schemaSamplingRuns = `
CREATE TABLE IF NOT EXISTS sampling_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    fiscal_year INTEGER NOT NULL,
    method TEXT NOT NULL,
    test_type TEXT NOT NULL,
    data_version BIGINT NOT NULL,
    generated_at BIGINT NOT NULL,
    plan TEXT NOT NULL,
    items TEXT NOT NULL,
    population TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sampling_runs_ledger ON sampling_runs(tenant_id, client_id, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_sampling_runs_generated ON sampling_runs(tenant_id, generated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLedgerTransactions,
		schemaLedgerVersions,
		schemaAccountMappings,
		schemaSamplingRuns,
	}
}
