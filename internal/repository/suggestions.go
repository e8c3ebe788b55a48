package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// suggestionTable implements domain.SuggestionQueue on the suggestions table.
type suggestionTable struct {
	repo *SQLRepository
}

// Append inserts items after the current tail in one transaction.
func (s *suggestionTable) Append(ctx context.Context, items []domain.Suggestion) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tail int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM suggestions`).Scan(&tail); err != nil {
		return fmt.Errorf("failed to read queue tail: %w", err)
	}

	query := s.repo.rebind(`
		INSERT INTO suggestions (
			id, position, target_rule, parameter, current_value, proposed_value,
			reasoning, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for i, item := range items {
		current, err := json.Marshal(item.CurrentValue)
		if err != nil {
			return fmt.Errorf("failed to encode current value: %w", err)
		}
		proposed, err := json.Marshal(item.ProposedValue)
		if err != nil {
			return fmt.Errorf("failed to encode proposed value: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			item.ID, tail+int64(i)+1, item.TargetRule, item.Parameter,
			string(current), string(proposed), item.Reasoning, string(item.Status),
			item.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}

	return tx.Commit()
}

const suggestionColumns = `
	id, target_rule, parameter, current_value, proposed_value, reasoning, status, created_at
`

func scanSuggestion(row rowScanner) (*domain.Suggestion, error) {
	var sg domain.Suggestion
	var current, proposed sql.NullString
	var status string

	if err := row.Scan(
		&sg.ID, &sg.TargetRule, &sg.Parameter, &current, &proposed,
		&sg.Reasoning, &status, &sg.CreatedAt,
	); err != nil {
		return nil, err
	}

	sg.Status = domain.SuggestionStatus(status)
	if current.Valid && current.String != "" {
		if err := json.Unmarshal([]byte(current.String), &sg.CurrentValue); err != nil {
			return nil, fmt.Errorf("failed to decode current value: %w", err)
		}
	}
	if proposed.Valid && proposed.String != "" {
		if err := json.Unmarshal([]byte(proposed.String), &sg.ProposedValue); err != nil {
			return nil, fmt.Errorf("failed to decode proposed value: %w", err)
		}
	}
	return &sg, nil
}

// List returns every suggestion in insertion order.
func (s *suggestionTable) List(ctx context.Context) ([]domain.Suggestion, error) {
	rows, err := s.repo.db.QueryContext(ctx,
		`SELECT `+suggestionColumns+` FROM suggestions ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Suggestion{}
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

// Get returns one suggestion by ID.
func (s *suggestionTable) Get(ctx context.Context, id string) (*domain.Suggestion, error) {
	query := s.repo.rebind(`SELECT ` + suggestionColumns + ` FROM suggestions WHERE id = ?`)

	sg, err := scanSuggestion(s.repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return sg, err
}

// SetStatus updates one suggestion's status.
func (s *suggestionTable) SetStatus(ctx context.Context, id string, status domain.SuggestionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}

	res, err := s.repo.db.ExecContext(ctx,
		s.repo.rebind(`UPDATE suggestions SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Clear removes every suggestion.
func (s *suggestionTable) Clear(ctx context.Context) error {
	_, err := s.repo.db.ExecContext(ctx, `DELETE FROM suggestions`)
	return err
}
