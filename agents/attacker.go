// agents/attacker.go
package agents

import (
	"context"
	"fmt"
	"strings"

	"cyber-range-orchestrator/models"
	"cyber-range-orchestrator/services"
)

const attackerSystemPrompt = `You are a red team operator in an authorized cyber range exercise.
Your objective is to compromise the target host and exfiltrate its flag file.
You act one shell command per round, executed from your attack workstation.
Work through the kill chain: reconnaissance, initial access, privilege
escalation, then exfiltration. Prefer quiet techniques; the defender is
watching.

Respond with ONLY a JSON object in a fenced code block:
` + "```json\n" + `{"reasoning": "why this action", "action": "<single shell command, or none>"}
` + "```"

// AttackerAgent plays the red side. It tracks its own access level and the
// services it has discovered so far, and feeds both back into every prompt.
type AttackerAgent struct {
	client   services.AIClient
	memory   *services.MemoryService
	scenario services.Scenario

	phase       string
	accessLevel string
	discovered  []string
	recent      []string
}

func NewAttackerAgent(client services.AIClient, memory *services.MemoryService, scenario services.Scenario) *AttackerAgent {
	return &AttackerAgent{
		client:      client,
		memory:      memory,
		scenario:    scenario,
		accessLevel: "none",
	}
}

func (a *AttackerAgent) Team() string { return models.TeamAttacker }

func (a *AttackerAgent) SetPhase(phase string) { a.phase = phase }

// Observe summarizes the attacker's tactical picture. Attackers get no
// telemetry; they only know what their own commands have shown them.
func (a *AttackerAgent) Observe(_ context.Context, _ string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", a.phase)
	fmt.Fprintf(&b, "Target: %s\n", a.scenario.TargetContainer)
	fmt.Fprintf(&b, "Access level: %s\n", a.accessLevel)
	if len(a.discovered) > 0 {
		fmt.Fprintf(&b, "Discovered services: %s\n", strings.Join(a.discovered, ", "))
	} else {
		b.WriteString("Discovered services: none yet\n")
	}
	if len(a.recent) > 0 {
		b.WriteString("\nRecent actions:\n")
		for _, entry := range a.recent {
			b.WriteString(entry + "\n")
		}
	}
	return b.String()
}

func (a *AttackerAgent) Decide(ctx context.Context, observation string) (models.Decision, error) {
	var prompt strings.Builder
	prompt.WriteString(a.memory.FormatMemoriesForPrompt(models.TeamAttacker, a.phase, a.scenario.ID, 5))
	prompt.WriteString("\nCURRENT SITUATION:\n")
	prompt.WriteString(observation)
	prompt.WriteString("\nChoose your next command.")

	raw, err := a.client.Complete(ctx, attackerSystemPrompt, prompt.String(), services.AIParams{
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		return models.Decision{}, fmt.Errorf("attacker decision: %w", err)
	}

	decision, ok := ParseDecision(raw)
	if !ok {
		return FallbackDecision(models.TeamAttacker), nil
	}
	return decision, nil
}

// Update folds an executed command back into the attacker's state: discovered
// services from scan output, access level from shell indicators.
func (a *AttackerAgent) Update(action string, result services.GatewayResult, success bool) {
	if action == "" || action == models.NoActionSentinel {
		return
	}

	output := strings.ToLower(result.Stdout)

	if strings.Contains(action, "nmap") && success {
		for _, svc := range []string{"ssh", "http", "https", "mysql", "ftp", "smtp", "redis"} {
			if strings.Contains(output, svc) && strings.Contains(output, "open") {
				a.addDiscovered(svc)
			}
		}
	}

	switch {
	case strings.Contains(output, "uid=0") || strings.Contains(output, "root@"):
		a.accessLevel = "root"
	case a.accessLevel == "none" && success && containsAny(output, "shell", "connected to", "$ "):
		a.accessLevel = "user"
	}

	status := "failed"
	if success {
		status = "ok"
	}
	a.recent = append(a.recent, fmt.Sprintf("[%s] %s -> %s", status, action, truncate(result.Stdout, 200)))
	if len(a.recent) > 5 {
		a.recent = a.recent[len(a.recent)-5:]
	}
}

func (a *AttackerAgent) addDiscovered(svc string) {
	for _, existing := range a.discovered {
		if existing == svc {
			return
		}
	}
	a.discovered = append(a.discovered, svc)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
