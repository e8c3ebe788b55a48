package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FeatureCount is the number of anonymized principal-component features (V1..V28).
const FeatureCount = 28

// Transaction is a single payment described by its elapsed time, amount and
// the anonymized feature vector. It is immutable once received.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Time is elapsed seconds relative to a reference point.
	Time   float64 `json:"Time"`
	Amount float64 `json:"Amount"`

	// V holds V1..V28; V[0] is V1.
	V [FeatureCount]float64 `json:"-"`

	ReceivedAt time.Time `json:"received_at"`
}

// Feature returns the named feature value. Names are V1..V28, Time and Amount.
// Unknown names read as 0.
func (t *Transaction) Feature(name string) float64 {
	switch name {
	case "Time":
		return t.Time
	case "Amount":
		return t.Amount
	}
	if idx, ok := featureIndex(name); ok {
		return t.V[idx]
	}
	return 0
}

// Validate rejects transactions whose numeric fields are not finite.
func (t *Transaction) Validate() error {
	if !finite(t.Time) {
		return fmt.Errorf("%w: Time is not a finite number", ErrInvalidTransaction)
	}
	if !finite(t.Amount) {
		return fmt.Errorf("%w: Amount is not a finite number", ErrInvalidTransaction)
	}
	for i, v := range t.V {
		if !finite(v) {
			return fmt.Errorf("%w: V%d is not a finite number", ErrInvalidTransaction, i+1)
		}
	}
	return nil
}

// MarshalJSON flattens the feature vector into V1..V28 keys.
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, FeatureCount+5)
	if t.ID != "" {
		out["id"] = t.ID
	}
	if t.UserID != "" {
		out["user_id"] = t.UserID
	}
	out["Time"] = t.Time
	out["Amount"] = t.Amount
	for i, v := range t.V {
		out["V"+strconv.Itoa(i+1)] = v
	}
	if !t.ReceivedAt.IsZero() {
		out["received_at"] = t.ReceivedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat V1..V28 layout. Missing features stay 0.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Transaction
	for key, val := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(val, &out.ID)
		case "user_id":
			err = json.Unmarshal(val, &out.UserID)
		case "Time":
			err = json.Unmarshal(val, &out.Time)
		case "Amount":
			err = json.Unmarshal(val, &out.Amount)
		case "received_at":
			err = json.Unmarshal(val, &out.ReceivedAt)
		default:
			if idx, ok := featureIndex(key); ok {
				err = json.Unmarshal(val, &out.V[idx])
			}
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}

	*t = out
	return nil
}

func featureIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "V") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 || n > FeatureCount {
		return 0, false
	}
	return n - 1, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ScoreRequest is the API payload for scoring a transaction. The transaction
// fields (Time, Amount, V1..V28) sit at the top level beside the scoring inputs.
type ScoreRequest struct {
	UserID      string          `json:"user_id"`
	ModelScore  float64         `json:"model_score"`
	Explanation json.RawMessage `json:"explanation,omitempty"`
	Transaction Transaction     `json:"-"`
}

// UnmarshalJSON decodes the flat request layout.
func (r *ScoreRequest) UnmarshalJSON(data []byte) error {
	type inputs struct {
		UserID      string          `json:"user_id"`
		ModelScore  *float64        `json:"model_score"`
		Explanation json.RawMessage `json:"explanation,omitempty"`
	}
	var in inputs
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.ModelScore == nil {
		return fmt.Errorf("%w: model_score is required", ErrInvalidInput)
	}

	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return err
	}
	tx.UserID = in.UserID

	*r = ScoreRequest{
		UserID:      in.UserID,
		ModelScore:  *in.ModelScore,
		Explanation: in.Explanation,
		Transaction: tx,
	}
	return nil
}

// Validate checks the scoring inputs and the transaction.
func (r *ScoreRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !finite(r.ModelScore) || r.ModelScore < 0 || r.ModelScore > 1 {
		return fmt.Errorf("%w: model_score must be within [0,1]", ErrInvalidInput)
	}
	return r.Transaction.Validate()
}
