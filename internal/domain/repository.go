// Package domain defines the core interfaces and types for FraudWatch.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transactions
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txnID string) (*Transaction, error)
	// LastTransactionTime returns the Time of the user's most recent
	// transaction, or nil when the user has none.
	LastTransactionTime(ctx context.Context, userID string) (*float64, error)

	// Decisions
	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, txnID string) (*Decision, error)
	ListDecisions(ctx context.Context, limit int) ([]*Decision, error)
	// FlaggedDecisions returns up to limit BLOCK/REVIEW decisions joined with
	// their transactions, newest first.
	FlaggedDecisions(ctx context.Context, limit int) ([]FlaggedDecision, error)

	// Rule document
	RuleSource

	// Suggestions returns the SQL-backed suggestion queue.
	Suggestions() SuggestionQueue

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// PostgresDSN overrides the fields above when set.
	PostgresDSN string `json:"-"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
