package domain

import (
	"context"
	"time"
)

// SuggestionStatus tracks a proposed change through human review.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionApplied  SuggestionStatus = "applied"
)

// Valid reports whether s is a known status.
func (s SuggestionStatus) Valid() bool {
	switch s {
	case SuggestionPending, SuggestionApproved, SuggestionRejected, SuggestionApplied:
		return true
	}
	return false
}

// Suggestion is one proposed rule-parameter change.
type Suggestion struct {
	ID            string           `json:"id"`
	TargetRule    string           `json:"target_rule"`
	Parameter     string           `json:"parameter"`
	CurrentValue  any              `json:"current_value"`
	ProposedValue any              `json:"proposed_value"`
	Reasoning     string           `json:"reasoning"`
	Status        SuggestionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// SuggestionQueue is the durable list of suggestions awaiting review.
// Implementations preserve insertion order.
type SuggestionQueue interface {
	// Append adds items at the end in one write.
	Append(ctx context.Context, items []Suggestion) error

	// List returns every entry in insertion order.
	List(ctx context.Context) ([]Suggestion, error)

	// Get returns the entry with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Suggestion, error)

	// SetStatus changes one entry's status or returns ErrNotFound.
	SetStatus(ctx context.Context, id string, status SuggestionStatus) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// SuggestionsConfig selects the queue backend.
type SuggestionsConfig struct {
	// Backend is "file", "sql", "redis" or "memory".
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// RedisKey is the list key used by the redis backend.
	RedisKey string `json:"redisKey"`
}
