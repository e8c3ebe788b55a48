package tuning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt pins the service to JSON output.
const SystemPrompt = "You are a helpful assistant that outputs JSON only."

// BuildPrompt renders the change request as the user message.
func BuildPrompt(req *ChangeRequest) (string, error) {
	rules, err := json.MarshalIndent(req.Rules, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode rules: %w", err)
	}
	flagged, err := json.MarshalIndent(req.Flagged, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode flagged sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a fraud risk manager. Tune the fraud detection rules by analyzing recently flagged transactions.\n\n")
	b.WriteString("CURRENT RULES (JSON):\n")
	b.Write(rules)
	fmt.Fprintf(&b, "\n\nRECENT FLAGGED TRANSACTIONS (%d, newest first):\n", len(req.Flagged))
	b.Write(flagged)
	b.WriteString(`

TASK:
1. If many flagged transactions look like false positives, suggest loosening the relevant thresholds.
2. If genuine fraud patterns are being caught, suggest tightening to catch similar patterns, or keep the rule as is.
Only propose changes to parameters that already exist in CURRENT RULES.

RESPONSE FORMAT:
{
  "suggestions": [
    {
      "target_rule": "velocity",
      "parameter": "time_window_sec",
      "current_value": 5,
      "proposed_value": 3,
      "reasoning": "Block rate is low, tightening velocity check."
    }
  ]
}

Return ONLY valid JSON.
`)
	return b.String(), nil
}
