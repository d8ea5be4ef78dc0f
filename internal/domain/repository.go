// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Ledger operations. Every import bumps the ledger's data version.
	SaveTransactions(ctx context.Context, tenantID string, ledger LedgerKey, txs []Transaction) (int64, error)
	GetLedger(ctx context.Context, tenantID string, ledger LedgerKey) ([]Transaction, int64, error)

	// Standard-account mapping operations
	SaveAccountMappings(ctx context.Context, tenantID string, clientID string, mappings []AccountMapping) error
	GetAccountMappings(ctx context.Context, tenantID string, clientID string) (StandardAccountMap, error)

	// Sampling runs
	SaveSamplingRun(ctx context.Context, tenantID string, run *SamplingRun) error
	GetSamplingRun(ctx context.Context, tenantID string, planID string) (*SamplingRun, error)
	ListSamplingPlans(ctx context.Context, tenantID string, ledger LedgerKey) ([]*SamplingPlan, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
