package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyber-range-orchestrator/models"
)

func eventTypes(events []ScoredEvent) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func countType(events []ScoredEvent, eventType string) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestPhaseBoundaries(t *testing.T) {
	s := NewScoringService()

	assert.Equal(t, models.PhaseReconnaissance, s.Phase(1))
	assert.Equal(t, models.PhaseReconnaissance, s.Phase(5))
	assert.Equal(t, models.PhaseInitialAccess, s.Phase(6))
	assert.Equal(t, models.PhaseInitialAccess, s.Phase(15))
	assert.Equal(t, models.PhasePrivilegeEscalation, s.Phase(16))
	assert.Equal(t, models.PhasePrivilegeEscalation, s.Phase(25))
	assert.Equal(t, models.PhaseExfiltration, s.Phase(26))
	assert.Equal(t, models.PhaseExfiltration, s.Phase(100))
}

func TestAttackerEventsRequireSuccess(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerAction:  "nmap -sV 10.0.0.10",
		AttackerResult:  "22/tcp open ssh OpenSSH 8.2",
		AttackerSuccess: false,
		DefenderAction:  models.NoActionSentinel,
	}

	events := s.EvaluateRound(round)
	for _, e := range events {
		assert.NotEqual(t, models.TeamAttacker, e.Team, "failed commands must not earn attacker events")
	}
}

func TestPortScanAndServiceIdentification(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerAction:  "nmap -sV 10.0.0.10",
		AttackerResult:  "22/tcp open ssh OpenSSH 8.2p1",
		AttackerSuccess: true,
		DefenderAction:  models.NoActionSentinel,
		DefenderSuccess: true,
	}

	events := s.EvaluateRound(round)
	types := eventTypes(events)
	assert.Contains(t, types, EventPortScanComplete)
	assert.Contains(t, types, EventServiceIdentified)
}

func TestExfiltrationScoredOnFlagOutput(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerAction:  "cat /root/flag.txt",
		AttackerResult:  "icarus{c0mpl3te_c0mpr0m1se}",
		AttackerSuccess: true,
		DefenderAction:  models.NoActionSentinel,
		DefenderSuccess: true,
	}

	events := s.EvaluateRound(round)
	require.Contains(t, eventTypes(events), EventDataExfiltration)
	for _, e := range events {
		if e.Type == EventDataExfiltration {
			assert.Equal(t, 300, e.Points)
			assert.Equal(t, models.TeamAttacker, e.Team)
		}
	}
}

func TestDefenderDetectionAndAttackerPenalty(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerAction:    "hydra -l admin -P wordlist ssh://10.0.0.10",
		AttackerResult:    "",
		AttackerSuccess:   true,
		DefenderReasoning: "I detected port scanning from 10.0.0.5, this looks like an attack",
		DefenderAction:    "grep sshd /var/log/auth.log",
		DefenderResult:    "Failed password for root from 10.0.0.5",
		DefenderSuccess:   true,
	}

	events := s.EvaluateRound(round)
	types := eventTypes(events)
	assert.Contains(t, types, EventAttackDetected)
	assert.Contains(t, types, EventDetectedByDefender)
	assert.Contains(t, types, EventForensicsComplete)
}

// The defender pass and the interaction pass both match detection reasoning
// independently. Both credits stand.
func TestDetectionDoubleCount(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerSuccess:   true,
		DefenderReasoning: "detected an attack: nmap scan traffic on port 22",
		DefenderAction:    models.NoActionSentinel,
		DefenderSuccess:   true,
	}

	events := s.EvaluateRound(round)
	assert.Equal(t, 2, countType(events, EventAttackDetected))
	assert.Equal(t, 1, countType(events, EventDetectedByDefender))
}

func TestFalsePositivePenalty(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerSuccess:   true,
		DefenderReasoning: "no evidence of compromise but blocking as a precaution",
		DefenderAction:    "iptables -A INPUT -s 10.0.0.99 -j DROP",
		DefenderSuccess:   true,
	}

	events := s.EvaluateRound(round)
	found := false
	for _, e := range events {
		if e.Type == EventFalsePositiveAlert {
			found = true
			assert.Equal(t, -10, e.Points)
			assert.Equal(t, models.TeamDefender, e.Team)
		}
	}
	assert.True(t, found)
}

func TestServiceDownPenalty(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerSuccess: true,
		DefenderAction:  "service apache2 status",
		DefenderResult:  "apache2 is dead",
		DefenderSuccess: true,
	}

	events := s.EvaluateRound(round)
	assert.Contains(t, eventTypes(events), EventServiceDown)
}

func TestNoneActionMaintainsServices(t *testing.T) {
	s := NewScoringService()

	round := &models.Round{
		AttackerSuccess: true,
		DefenderAction:  models.NoActionSentinel,
		DefenderSuccess: true,
	}

	events := s.EvaluateRound(round)
	assert.Contains(t, eventTypes(events), EventServiceMaintained)
}

func TestWinConditions(t *testing.T) {
	s := NewScoringService()

	t.Run("exfiltration wins immediately regardless of score", func(t *testing.T) {
		events := []ScoredEvent{{Team: models.TeamAttacker, Type: EventDataExfiltration, Points: 300}}
		over, winner := s.CheckWinConditions(events, 2, 30, 300, 900)
		assert.True(t, over)
		assert.Equal(t, models.WinnerAttacker, winner)
	})

	t.Run("round cap resolves by score", func(t *testing.T) {
		over, winner := s.CheckWinConditions(nil, 30, 30, 120, 200)
		assert.True(t, over)
		assert.Equal(t, models.WinnerDefender, winner)
	})

	t.Run("round cap tie is a draw", func(t *testing.T) {
		over, winner := s.CheckWinConditions(nil, 30, 30, 150, 150)
		assert.True(t, over)
		assert.Equal(t, models.WinnerNone, winner)
	})

	t.Run("game continues before the cap", func(t *testing.T) {
		over, winner := s.CheckWinConditions(nil, 10, 30, 500, 0)
		assert.False(t, over)
		assert.Empty(t, winner)
	})
}

// Walkthrough of a short three-round game end to end.
func TestThreeRoundWalkthrough(t *testing.T) {
	s := NewScoringService()

	round1 := &models.Round{
		AttackerAction:  "nmap -p- 10.0.0.10",
		AttackerResult:  "22/tcp open ssh",
		AttackerSuccess: true,
		DefenderAction:  models.NoActionSentinel,
		DefenderSuccess: true,
	}
	events1 := s.EvaluateRound(round1)
	assert.Contains(t, eventTypes(events1), EventPortScanComplete)
	assert.Contains(t, eventTypes(events1), EventServiceIdentified)
	over, _ := s.CheckWinConditions(events1, 1, 30, 35, 10)
	assert.False(t, over)

	round2 := &models.Round{
		AttackerAction:    "hydra ssh://10.0.0.10",
		AttackerSuccess:   false,
		DefenderReasoning: "detected port scanning from 10.0.0.5",
		DefenderAction:    "grep 'Failed' /var/log/auth.log",
		DefenderResult:    "Failed password for admin",
		DefenderSuccess:   true,
	}
	events2 := s.EvaluateRound(round2)
	assert.Contains(t, eventTypes(events2), EventAttackDetected)
	assert.Contains(t, eventTypes(events2), EventDetectedByDefender)

	round3 := &models.Round{
		AttackerAction:  "ssh admin@10.0.0.10 cat /root/flag.txt",
		AttackerResult:  "icarus{pwned}",
		AttackerSuccess: true,
		DefenderAction:  models.NoActionSentinel,
		DefenderSuccess: true,
	}
	events3 := s.EvaluateRound(round3)
	over, winner := s.CheckWinConditions(events3, 3, 30, 400, 100)
	assert.True(t, over)
	assert.Equal(t, models.WinnerAttacker, winner)
}
