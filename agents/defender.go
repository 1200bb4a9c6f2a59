// agents/defender.go
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cyber-range-orchestrator/models"
	"cyber-range-orchestrator/services"
)

const defenderSystemPrompt = `You are a blue team operator defending a production host in an authorized
cyber range exercise. An attacker is actively probing your system. You act
one shell command per round, executed on the defended host. Detect intrusions
in the telemetry, block attacker IPs, patch weaknesses and keep every service
running. Taking down your own services costs you points. Answer "none" when
monitoring is the right move.

Respond with ONLY a JSON object in a fenced code block:
` + "```json\n" + `{"reasoning": "why this action", "action": "<single shell command, or none>"}
` + "```"

var dropRuleIP = regexp.MustCompile(`-s\s+(\d+\.\d+\.\d+\.\d+)`)

// DefenderAgent plays the blue side. It tracks which IPs it has blocked and
// the alerts it has raised, and reviews fresh telemetry every round.
type DefenderAgent struct {
	client   services.AIClient
	memory   *services.MemoryService
	scenario services.Scenario

	phase      string
	blockedIPs []string
	alerts     []string
}

func NewDefenderAgent(client services.AIClient, memory *services.MemoryService, scenario services.Scenario) *DefenderAgent {
	return &DefenderAgent{
		client:   client,
		memory:   memory,
		scenario: scenario,
	}
}

func (d *DefenderAgent) Team() string { return models.TeamDefender }

func (d *DefenderAgent) SetPhase(phase string) { d.phase = phase }

// Observe combines the fresh telemetry battery with the defender's own
// standing state.
func (d *DefenderAgent) Observe(_ context.Context, telemetry string) string {
	var b strings.Builder
	b.WriteString(telemetry)
	fmt.Fprintf(&b, "\nProtected services: %s\n", strings.Join(d.scenario.Services, ", "))
	if len(d.blockedIPs) > 0 {
		fmt.Fprintf(&b, "Already blocked IPs: %s\n", strings.Join(d.blockedIPs, ", "))
	}
	if len(d.alerts) > 0 {
		b.WriteString("Open alerts:\n")
		for _, alert := range d.alerts {
			b.WriteString("  - " + alert + "\n")
		}
	}
	return b.String()
}

func (d *DefenderAgent) Decide(ctx context.Context, observation string) (models.Decision, error) {
	var prompt strings.Builder
	prompt.WriteString(d.memory.FormatMemoriesForPrompt(models.TeamDefender, d.phase, d.scenario.ID, 5))
	prompt.WriteString("\nCURRENT SITUATION:\n")
	prompt.WriteString(observation)
	prompt.WriteString("\nChoose your next command.")

	raw, err := d.client.Complete(ctx, defenderSystemPrompt, prompt.String(), services.AIParams{
		MaxTokens:   1024,
		Temperature: 0.5,
	})
	if err != nil {
		return models.Decision{}, fmt.Errorf("defender decision: %w", err)
	}

	decision, ok := ParseDecision(raw)
	if !ok {
		return FallbackDecision(models.TeamDefender), nil
	}
	return decision, nil
}

// Update records firewall blocks and raises alerts from suspicious command
// output.
func (d *DefenderAgent) Update(action string, result services.GatewayResult, success bool) {
	if action == "" || action == models.NoActionSentinel {
		return
	}

	if success && strings.Contains(action, "iptables") && strings.Contains(action, "-j DROP") {
		if m := dropRuleIP.FindStringSubmatch(action); m != nil {
			d.addBlockedIP(m[1])
		}
	}

	output := strings.ToLower(result.Stdout)
	if containsAny(output, "failed password", "authentication failure", "possible break-in") {
		d.addAlert("suspicious auth activity in logs")
	}
	if strings.Contains(output, "nmap") || strings.Contains(output, "masscan") {
		d.addAlert("scanning tool traffic observed")
	}
	if len(d.alerts) > 5 {
		d.alerts = d.alerts[len(d.alerts)-5:]
	}
}

func (d *DefenderAgent) addBlockedIP(ip string) {
	for _, existing := range d.blockedIPs {
		if existing == ip {
			return
		}
	}
	d.blockedIPs = append(d.blockedIPs, ip)
}

func (d *DefenderAgent) addAlert(alert string) {
	for _, existing := range d.alerts {
		if existing == alert {
			return
		}
	}
	d.alerts = append(d.alerts, alert)
}
