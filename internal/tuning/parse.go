package tuning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// ErrNoJSON means the response contained no brace-delimited object.
var ErrNoJSON = errors.New("response contains no JSON object")

type proposal struct {
	TargetRule    string `json:"target_rule"`
	Parameter     string `json:"parameter"`
	CurrentValue  any    `json:"current_value"`
	ProposedValue any    `json:"proposed_value"`
	Reasoning     string `json:"reasoning"`
}

// ParseSuggestions extracts the text between the first '{' and the last '}'
// and decodes it as {"suggestions": [...]}. Prose around the object is
// ignored. A missing suggestions key decodes to an empty list.
func ParseSuggestions(text string) ([]domain.Suggestion, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, ErrNoJSON
	}

	var body struct {
		Suggestions []proposal `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &body); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	out := make([]domain.Suggestion, 0, len(body.Suggestions))
	for i, p := range body.Suggestions {
		if p.TargetRule == "" || p.Parameter == "" {
			return nil, fmt.Errorf("suggestion %d: target_rule and parameter are required", i)
		}
		out = append(out, domain.Suggestion{
			TargetRule:    p.TargetRule,
			Parameter:     p.Parameter,
			CurrentValue:  p.CurrentValue,
			ProposedValue: p.ProposedValue,
			Reasoning:     p.Reasoning,
		})
	}
	return out, nil
}
