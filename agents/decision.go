package agents

import (
	"encoding/json"
	"strings"

	"cyber-range-orchestrator/models"
)

// ParseDecision extracts a decision from raw model output. It accepts a
// ```json fenced block, a bare fenced block, or the outermost JSON object in
// the text. Returns ok=false when no structurally valid decision is present;
// it never panics on garbage.
func ParseDecision(raw string) (models.Decision, bool) {
	payload := extractJSON(raw)
	if payload == "" {
		return models.Decision{}, false
	}

	var parsed struct {
		Reasoning string `json:"reasoning"`
		Action    string `json:"action"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return models.Decision{}, false
	}

	action := strings.TrimSpace(parsed.Action)
	if action == "" {
		return models.Decision{}, false
	}

	return models.Decision{
		Reasoning: strings.TrimSpace(parsed.Reasoning),
		Action:    action,
	}, true
}

func extractJSON(raw string) string {
	if idx := strings.Index(raw, "```json"); idx >= 0 {
		rest := raw[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

// FallbackDecision is the structurally valid no-op used when a model's
// output could not be parsed.
func FallbackDecision(team string) models.Decision {
	reasoning := "Output could not be parsed, observing this round."
	if team == models.TeamDefender {
		reasoning = "Output could not be parsed, continuing to monitor."
	}
	return models.Decision{
		Reasoning: reasoning,
		Action:    models.NoActionSentinel,
		Metadata:  map[string]string{"fallback": "true"},
	}
}
