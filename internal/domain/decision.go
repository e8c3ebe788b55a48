package domain

import (
	"encoding/json"
	"time"
)

// Label is the action attached to a scored transaction.
type Label string

const (
	LabelAllow  Label = "ALLOW"
	LabelReview Label = "REVIEW"
	LabelBlock  Label = "BLOCK"
)

// Flagged reports whether the label asks for intervention.
func (l Label) Flagged() bool {
	return l == LabelBlock || l == LabelReview
}

// Decision is the persisted outcome for one transaction.
type Decision struct {
	TxnID         string         `json:"txn_id"`
	FinalRisk     float64        `json:"final_risk"`
	Label         Label          `json:"decision"`
	Reason        string         `json:"reason"`
	ModelScore    float64        `json:"model_score"`
	RuleScore     float64        `json:"rule_score"`
	RuleFlags     map[string]int `json:"rule_flags"`
	ConfigVersion uint64         `json:"config_version"`
	Timestamp     time.Time      `json:"timestamp"`
}

// FlaggedDecision is a BLOCK or REVIEW decision joined with its transaction.
type FlaggedDecision struct {
	TxnID     string    `json:"txn_id"`
	Amount    float64   `json:"amount"`
	TxnTime   float64   `json:"txn_time"`
	Timestamp time.Time `json:"timestamp"`
	Label     Label     `json:"decision"`
	FinalRisk float64   `json:"final_risk"`
	Reason    string    `json:"reason"`
}

// ScoreResponse is the API response for a scored transaction.
type ScoreResponse struct {
	TxnID         string          `json:"txn_id"`
	RiskScore     float64         `json:"risk_score"`
	Decision      Label           `json:"decision"`
	ModelScore    float64         `json:"model_score"`
	RuleScore     float64         `json:"rule_score"`
	RuleDetails   map[string]int  `json:"rule_details"`
	Explanation   json.RawMessage `json:"explanation,omitempty"`
	ConfigVersion uint64          `json:"config_version"`
}
