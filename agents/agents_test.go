package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cyber-range-orchestrator/models"
	"cyber-range-orchestrator/services"
)

type stubClient struct {
	response   string
	err        error
	lastPrompt string
}

func (c *stubClient) ModelName() string { return "stub-model" }

func (c *stubClient) Complete(_ context.Context, _, userPrompt string, _ services.AIParams) (string, error) {
	c.lastPrompt = userPrompt
	return c.response, c.err
}

func newTestMemory(t *testing.T) *services.MemoryService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Memory{}))
	return services.NewMemoryService(db)
}

func testScenario() services.Scenario {
	return services.Scenario{
		ID:                "web-stack-breach",
		Name:              "Web Stack Breach",
		AttackerContainer: "range-attacker",
		TargetContainer:   "range-target",
		FlagLocation:      "/root/flag.txt",
		Services:          []string{"ssh", "http"},
		MaxRounds:         30,
	}
}

func TestAttackerDecideParsesModelOutput(t *testing.T) {
	client := &stubClient{response: "```json\n{\"reasoning\": \"start with recon\", \"action\": \"nmap -sV range-target\"}\n```"}
	attacker := NewAttackerAgent(client, newTestMemory(t), testScenario())
	attacker.SetPhase(models.PhaseReconnaissance)

	decision, err := attacker.Decide(context.Background(), attacker.Observe(context.Background(), ""))
	require.NoError(t, err)
	assert.Equal(t, "nmap -sV range-target", decision.Action)
	assert.Contains(t, client.lastPrompt, "CURRENT SITUATION:")
	assert.Contains(t, client.lastPrompt, "Phase: reconnaissance")
}

func TestAttackerDecideFallsBackOnGarbage(t *testing.T) {
	client := &stubClient{response: "I would rather write an essay about ports."}
	attacker := NewAttackerAgent(client, newTestMemory(t), testScenario())

	decision, err := attacker.Decide(context.Background(), "obs")
	require.NoError(t, err)
	assert.Equal(t, models.NoActionSentinel, decision.Action)
	assert.Equal(t, "true", decision.Metadata["fallback"])
}

func TestAttackerDecidePropagatesTransportErrors(t *testing.T) {
	client := &stubClient{err: errors.New("rate limited")}
	attacker := NewAttackerAgent(client, newTestMemory(t), testScenario())

	_, err := attacker.Decide(context.Background(), "obs")
	assert.Error(t, err)
}

func TestAttackerUpdateTracksState(t *testing.T) {
	attacker := NewAttackerAgent(&stubClient{}, newTestMemory(t), testScenario())

	attacker.Update("nmap -sV range-target", services.GatewayResult{Stdout: "22/tcp open ssh\n80/tcp open http"}, true)
	attacker.Update("nmap -sV range-target", services.GatewayResult{Stdout: "22/tcp open ssh"}, true)

	observation := attacker.Observe(context.Background(), "")
	assert.Contains(t, observation, "ssh, http")
	assert.Contains(t, observation, "Access level: none")

	attacker.Update("ssh www-data@range-target", services.GatewayResult{Stdout: "connected to range-target\n$ "}, true)
	observation = attacker.Observe(context.Background(), "")
	assert.Contains(t, observation, "Access level: user")

	attacker.Update("sudo -l && id", services.GatewayResult{Stdout: "uid=0(root) gid=0(root)"}, true)
	observation = attacker.Observe(context.Background(), "")
	assert.Contains(t, observation, "Access level: root")
}

func TestAttackerIgnoresNoActionUpdates(t *testing.T) {
	attacker := NewAttackerAgent(&stubClient{}, newTestMemory(t), testScenario())

	attacker.Update(models.NoActionSentinel, services.GatewayResult{}, true)
	assert.NotContains(t, attacker.Observe(context.Background(), ""), "Recent actions")
}

func TestDefenderObserveIncludesTelemetryAndState(t *testing.T) {
	defender := NewDefenderAgent(&stubClient{}, newTestMemory(t), testScenario())

	defender.Update("iptables -A INPUT -s 10.0.0.5 -j DROP", services.GatewayResult{}, true)
	defender.Update("iptables -A INPUT -s 10.0.0.5 -j DROP", services.GatewayResult{}, true)

	observation := defender.Observe(context.Background(), "SYSTEM TELEMETRY:\n## Process count\n143")
	assert.Contains(t, observation, "SYSTEM TELEMETRY:")
	assert.Contains(t, observation, "Protected services: ssh, http")
	assert.Contains(t, observation, "Already blocked IPs: 10.0.0.5")
	assert.NotContains(t, observation, "10.0.0.5, 10.0.0.5", "blocked IPs are deduplicated")
}

func TestDefenderRaisesAlertsFromOutput(t *testing.T) {
	defender := NewDefenderAgent(&stubClient{}, newTestMemory(t), testScenario())

	defender.Update("grep Failed /var/log/auth.log", services.GatewayResult{Stdout: "Failed password for root from 10.0.0.5"}, true)

	observation := defender.Observe(context.Background(), "")
	assert.Contains(t, observation, "suspicious auth activity in logs")
}

func TestDefenderDecideFallsBackOnGarbage(t *testing.T) {
	client := &stubClient{response: "no json here"}
	defender := NewDefenderAgent(client, newTestMemory(t), testScenario())

	decision, err := defender.Decide(context.Background(), "obs")
	require.NoError(t, err)
	assert.Equal(t, models.NoActionSentinel, decision.Action)
	assert.Equal(t, "true", decision.Metadata["fallback"])
}
