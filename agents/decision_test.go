package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyber-range-orchestrator/models"
)

func TestParseDecisionFencedJSON(t *testing.T) {
	raw := "Here is my plan.\n```json\n{\"reasoning\": \"scan the target first\", \"action\": \"nmap -sV 10.0.0.10\"}\n```\nGood luck."

	decision, ok := ParseDecision(raw)
	require.True(t, ok)
	assert.Equal(t, "scan the target first", decision.Reasoning)
	assert.Equal(t, "nmap -sV 10.0.0.10", decision.Action)
}

func TestParseDecisionBareFence(t *testing.T) {
	raw := "```\n{\"reasoning\": \"hold\", \"action\": \"none\"}\n```"

	decision, ok := ParseDecision(raw)
	require.True(t, ok)
	assert.Equal(t, models.NoActionSentinel, decision.Action)
}

func TestParseDecisionBareObject(t *testing.T) {
	raw := `I'll block them. {"reasoning": "attacker IP identified", "action": "iptables -A INPUT -s 10.0.0.5 -j DROP"} done`

	decision, ok := ParseDecision(raw)
	require.True(t, ok)
	assert.Equal(t, "iptables -A INPUT -s 10.0.0.5 -j DROP", decision.Action)
}

func TestParseDecisionTrimsWhitespace(t *testing.T) {
	raw := "```json\n{\"reasoning\": \"  padded  \", \"action\": \"  ls /tmp  \"}\n```"

	decision, ok := ParseDecision(raw)
	require.True(t, ok)
	assert.Equal(t, "ls /tmp", decision.Action)
	assert.Equal(t, "padded", decision.Reasoning)
}

func TestParseDecisionRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"I refuse to answer in JSON.",
		"```json\nnot json at all\n```",
		`{"reasoning": "missing the action field"}`,
		`{"reasoning": "empty action", "action": "   "}`,
		"{broken json",
	} {
		_, ok := ParseDecision(raw)
		assert.False(t, ok, "input %q must not parse", raw)
	}
}

func TestFallbackDecisionIsAlwaysValid(t *testing.T) {
	for _, team := range []string{models.TeamAttacker, models.TeamDefender} {
		decision := FallbackDecision(team)
		assert.Equal(t, models.NoActionSentinel, decision.Action)
		assert.NotEmpty(t, decision.Reasoning)
		assert.Equal(t, "true", decision.Metadata["fallback"])
	}
}
