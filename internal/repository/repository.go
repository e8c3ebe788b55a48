// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

const ruleDocumentID = 1

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// DB exposes the connection pool for stats collection.
func (r *SQLRepository) DB() *sql.DB { return r.db }

func (r *SQLRepository) String() string { return r.driver + ":rule_documents" }

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction id and user id are required", domain.ErrInvalidInput)
	}

	features, err := json.Marshal(tx.V)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	received := tx.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (id, user_id, txn_time, amount, features, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Time, tx.Amount, string(features), received.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, txn_time, amount, features, received_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var features string
	err := r.db.QueryRowContext(ctx, r.rebind(query), txnID).Scan(
		&tx.ID, &tx.UserID, &tx.Time, &tx.Amount, &features, &tx.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(features), &tx.V); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return &tx, nil
}

// LastTransactionTime returns the Time of the user's most recently received transaction.
func (r *SQLRepository) LastTransactionTime(ctx context.Context, userID string) (*float64, error) {
	query := `
		SELECT txn_time FROM transactions
		WHERE user_id = ?
		ORDER BY received_at DESC, txn_time DESC
		LIMIT 1
	`

	var t float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveDecision stores a decision.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if d.TxnID == "" {
		return fmt.Errorf("%w: txn id is required", domain.ErrInvalidInput)
	}

	flags, err := json.Marshal(d.RuleFlags)
	if err != nil {
		return fmt.Errorf("failed to encode rule flags: %w", err)
	}

	query := `
		INSERT INTO decisions (
			txn_id, final_risk, decision, reason, model_score, rule_score,
			rule_flags, config_version, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.TxnID, d.FinalRisk, string(d.Label), d.Reason, d.ModelScore, d.RuleScore,
		string(flags), int64(d.ConfigVersion), d.Timestamp.UTC(),
	)
	return err
}

const decisionColumns = `
	txn_id, final_risk, decision, reason, model_score, rule_score,
	rule_flags, config_version, decided_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var label, flags string
	var version int64

	if err := row.Scan(
		&d.TxnID, &d.FinalRisk, &label, &d.Reason, &d.ModelScore, &d.RuleScore,
		&flags, &version, &d.Timestamp,
	); err != nil {
		return nil, err
	}

	d.Label = domain.Label(label)
	d.ConfigVersion = uint64(version)
	if flags != "" {
		if err := json.Unmarshal([]byte(flags), &d.RuleFlags); err != nil {
			return nil, fmt.Errorf("failed to decode rule flags: %w", err)
		}
	}
	return &d, nil
}

// GetDecision retrieves the decision for a transaction.
func (r *SQLRepository) GetDecision(ctx context.Context, txnID string) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE txn_id = ?`

	d, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

// ListDecisions returns up to limit decisions, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, limit int) ([]*domain.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + decisionColumns + ` FROM decisions ORDER BY decided_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FlaggedDecisions returns up to limit BLOCK/REVIEW decisions joined with
// their transactions, newest first.
func (r *SQLRepository) FlaggedDecisions(ctx context.Context, limit int) ([]domain.FlaggedDecision, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT d.txn_id, t.amount, t.txn_time, t.received_at, d.decision, d.final_risk, d.reason
		FROM decisions d
		JOIN transactions t ON d.txn_id = t.id
		WHERE d.decision IN (?, ?)
		ORDER BY d.decided_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		string(domain.LabelBlock), string(domain.LabelReview), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FlaggedDecision
	for rows.Next() {
		var f domain.FlaggedDecision
		var label string
		if err := rows.Scan(
			&f.TxnID, &f.Amount, &f.TxnTime, &f.Timestamp, &label, &f.FinalRisk, &f.Reason,
		); err != nil {
			return nil, err
		}
		f.Label = domain.Label(label)
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadRules returns the stored rule document.
func (r *SQLRepository) LoadRules(ctx context.Context) (domain.RuleDocument, error) {
	query := `SELECT document FROM rule_documents WHERE id = ?`

	var raw string
	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleDocumentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ConfigLoadError{Source: r.String(), Err: domain.ErrNotFound}
	}
	if err != nil {
		return nil, &domain.ConfigLoadError{Source: r.String(), Err: err}
	}

	doc := domain.RuleDocument{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &domain.ConfigLoadError{Source: r.String(), Err: fmt.Errorf("failed to decode rule document: %w", err)}
	}
	return doc, nil
}

// SaveRules replaces the stored rule document in one statement.
func (r *SQLRepository) SaveRules(ctx context.Context, doc domain.RuleDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode rule document: %w", err)
	}

	query := `
		INSERT INTO rule_documents (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), ruleDocumentID, string(raw), time.Now().UTC())
	return err
}

// Suggestions returns the SQL-backed suggestion queue.
func (r *SQLRepository) Suggestions() domain.SuggestionQueue {
	return &suggestionTable{repo: r}
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

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
