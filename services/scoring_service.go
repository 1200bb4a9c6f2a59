// services/scoring_service.go
package services

import (
	"strings"

	"cyber-range-orchestrator/models"
)

// Attacker event types, ordered by kill-chain progression.
const (
	EventPortScanComplete       = "port_scan_complete"
	EventServiceIdentified      = "service_identified"
	EventVulnerabilityFound     = "vulnerability_found"
	EventCredentialsObtained    = "credentials_obtained"
	EventShellAccessGained      = "shell_access_gained"
	EventPrivilegeEscalation    = "privilege_escalation"
	EventPersistenceEstablished = "persistence_established"
	EventDataExfiltration       = "data_exfiltration"
)

// Defender event types.
const (
	EventAttackDetected       = "attack_detected"
	EventAttackBlocked        = "attack_blocked"
	EventAttackerIPBanned     = "attacker_ip_banned"
	EventVulnerabilityPatched = "vulnerability_patched"
	EventServiceMaintained    = "service_maintained"
	EventForensicsComplete    = "forensics_complete"
	EventRecoveryComplete     = "recovery_complete"
)

// Penalty event types.
const (
	EventServiceDown        = "service_down"
	EventDetectedByDefender = "detected_by_defender"
	EventFalsePositiveAlert = "false_positive_alert"
	EventCommandTimeout     = "command_timeout"
	EventInvalidCommand     = "invalid_command"
)

var attackerScores = map[string]int{
	EventPortScanComplete:       10,
	EventServiceIdentified:      15,
	EventVulnerabilityFound:     25,
	EventCredentialsObtained:    50,
	EventShellAccessGained:      100,
	EventPrivilegeEscalation:    150,
	EventPersistenceEstablished: 200,
	EventDataExfiltration:       300,
}

var defenderScores = map[string]int{
	EventAttackDetected:       25,
	EventAttackBlocked:        50,
	EventAttackerIPBanned:     75,
	EventVulnerabilityPatched: 100,
	EventServiceMaintained:    10,
	EventForensicsComplete:    150,
	EventRecoveryComplete:     200,
}

var penalties = map[string]int{
	EventServiceDown:        -50,
	EventDetectedByDefender: -25,
	EventFalsePositiveAlert: -10,
	EventCommandTimeout:     -5,
	EventInvalidCommand:     -10,
}

// PenaltyFor builds a penalty event for the given team. Unknown types yield
// zero points.
func (s *ScoringService) PenaltyFor(team, eventType, description string) ScoredEvent {
	return penaltyEvent(team, eventType, description)
}

// ScoredEvent is one classified outcome of a round, ready to be applied as a
// score delta and persisted.
type ScoredEvent struct {
	Team        string
	Type        string
	Points      int
	Description string
}

// ScoringService classifies round results into scored events and evaluates
// win conditions. It is stateless: every method is a pure function of its
// arguments.
type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

// Phase maps a round number onto the kill-chain stage. It is recomputed from
// the round number every round, so it can never drift.
func (s *ScoringService) Phase(roundNumber int) string {
	switch {
	case roundNumber <= 5:
		return models.PhaseReconnaissance
	case roundNumber <= 15:
		return models.PhaseInitialAccess
	case roundNumber <= 25:
		return models.PhasePrivilegeEscalation
	default:
		return models.PhaseExfiltration
	}
}

// EvaluateRound runs the three classification passes in fixed order: attacker
// achievements, defender achievements, then cross-team interactions. The
// interaction pass is deliberately not deduplicated against the defender
// pass: when both match, both sets of events are recorded.
func (s *ScoringService) EvaluateRound(round *models.Round) []ScoredEvent {
	var events []ScoredEvent
	events = append(events, s.evaluateAttacker(round)...)
	events = append(events, s.evaluateDefender(round)...)
	events = append(events, s.evaluateInteractions(round)...)
	return events
}

func (s *ScoringService) evaluateAttacker(round *models.Round) []ScoredEvent {
	var events []ScoredEvent

	action := strings.ToLower(round.AttackerAction)
	output := strings.ToLower(round.AttackerResult)

	// Achievements only count on successful commands.
	if !round.AttackerSuccess {
		return events
	}

	if strings.Contains(action, "nmap") && (strings.Contains(output, "open") || strings.Contains(output, "closed")) {
		events = append(events, attackerEvent(EventPortScanComplete, "Attacker completed port scan"))
	}

	if containsAny(output, "ssh", "http", "mysql", "version", "apache") {
		if strings.Contains(action, "nmap") || strings.Contains(action, "curl") {
			events = append(events, attackerEvent(EventServiceIdentified, "Attacker identified service"))
		}
	}

	if containsAny(output, "vulnerable", "exploit", "cve", "weakness") {
		events = append(events, attackerEvent(EventVulnerabilityFound, "Attacker found vulnerability"))
	}

	if containsAny(output, "password", "credential", "username", "login success") {
		events = append(events, attackerEvent(EventCredentialsObtained, "Attacker obtained credentials"))
	}

	if containsAny(output, "shell", "$", "#", "bash", "sh-", "connected to") {
		if containsAny(action, "ssh", "nc", "exploit") {
			events = append(events, attackerEvent(EventShellAccessGained, "Attacker gained shell access"))
		}
	}

	if containsAny(output, "root@", "uid=0", "euid=0") {
		events = append(events, attackerEvent(EventPrivilegeEscalation, "Attacker escalated to root"))
	}

	if containsAny(action, "crontab", "authorized_keys", "systemd") && containsAny(output, "installed", "added", "written", "created") {
		events = append(events, attackerEvent(EventPersistenceEstablished, "Attacker established persistence"))
	}

	if strings.Contains(output, "flag") || strings.Contains(output, "icarus{") {
		events = append(events, attackerEvent(EventDataExfiltration, "Attacker exfiltrated flag data"))
	}

	return events
}

func (s *ScoringService) evaluateDefender(round *models.Round) []ScoredEvent {
	var events []ScoredEvent

	action := strings.ToLower(round.DefenderAction)
	output := strings.ToLower(round.DefenderResult)
	reasoning := strings.ToLower(round.DefenderReasoning)
	success := round.DefenderSuccess

	if containsAny(reasoning, "attack", "suspicious", "malicious", "threat") {
		if strings.Contains(reasoning, "detected") || strings.Contains(reasoning, "found") {
			events = append(events, defenderEvent(EventAttackDetected, "Defender detected attack"))
		}
	}

	if strings.Contains(action, "iptables") && strings.Contains(action, "-j drop") && success {
		events = append(events, defenderEvent(EventAttackBlocked, "Defender blocked attack"))
	}

	if strings.Contains(action, "iptables") && success && (strings.Contains(action, "-a input") || strings.Contains(action, "-i input")) {
		events = append(events, defenderEvent(EventAttackerIPBanned, "Defender banned attacker IP"))
	}

	if containsAny(action, "apt-get", "apt upgrade", "yum update", "patch") && success {
		events = append(events, defenderEvent(EventVulnerabilityPatched, "Defender patched vulnerability"))
	}

	if action == models.NoActionSentinel || strings.Contains(action, "status") || strings.Contains(action, "ps") {
		events = append(events, defenderEvent(EventServiceMaintained, "Defender maintained services"))
	}

	if strings.Contains(action, "grep") && success && containsAny(output, "failed", "denied", "attack", "scan") {
		events = append(events, defenderEvent(EventForensicsComplete, "Defender completed forensic analysis"))
	}

	if strings.Contains(action, "service") && strings.Contains(action, "restart") && success {
		events = append(events, defenderEvent(EventRecoveryComplete, "Defender restored service"))
	}

	// False positive: blocking without evidence of an actual attack.
	if strings.Contains(action, "iptables") && success {
		if strings.Contains(reasoning, "no evidence") || strings.Contains(reasoning, "precaution") {
			events = append(events, penaltyEvent(models.TeamDefender, EventFalsePositiveAlert, "Defender false positive"))
		}
	}

	return events
}

// evaluateInteractions scans the defender's reasoning for mentions of attacker
// tooling and behaviour. A match credits the defender and penalizes the
// attacker in the same round. Scoring favours recall over precision here: a
// detection already credited by the defender pass is credited again.
func (s *ScoringService) evaluateInteractions(round *models.Round) []ScoredEvent {
	var events []ScoredEvent

	reasoning := strings.ToLower(round.DefenderReasoning)

	if containsAny(reasoning, "nmap", "scan", "probe", "brute force", "injection") {
		events = append(events,
			defenderEvent(EventAttackDetected, "Defender detected attacker activity"),
			penaltyEvent(models.TeamAttacker, EventDetectedByDefender, "Attacker was detected"),
		)
	}

	// Availability penalty: the defender's own telemetry shows a dead service.
	output := strings.ToLower(round.DefenderResult)
	if containsAny(output, "stopped", "dead", "failed", "inactive") && strings.Contains(round.DefenderAction, "service") {
		events = append(events, penaltyEvent(models.TeamDefender, EventServiceDown, "Service went down"))
	}

	return events
}

// CheckWinConditions decides whether the game ends after this round's events
// have been applied. A data exfiltration event ends the game immediately with
// the attacker as winner regardless of score. Otherwise the round cap ends
// the game with the winner resolved by strict score comparison; equal scores
// are a draw.
func (s *ScoringService) CheckWinConditions(events []ScoredEvent, roundNumber, maxRounds, attackerScore, defenderScore int) (bool, string) {
	for _, e := range events {
		if e.Team == models.TeamAttacker && e.Type == EventDataExfiltration {
			return true, models.WinnerAttacker
		}
	}

	if roundNumber >= maxRounds {
		switch {
		case attackerScore > defenderScore:
			return true, models.WinnerAttacker
		case defenderScore > attackerScore:
			return true, models.WinnerDefender
		default:
			return true, models.WinnerNone
		}
	}

	return false, ""
}

func attackerEvent(eventType, description string) ScoredEvent {
	return ScoredEvent{Team: models.TeamAttacker, Type: eventType, Points: attackerScores[eventType], Description: description}
}

func defenderEvent(eventType, description string) ScoredEvent {
	return ScoredEvent{Team: models.TeamDefender, Type: eventType, Points: defenderScores[eventType], Description: description}
}

func penaltyEvent(team, eventType, description string) ScoredEvent {
	return ScoredEvent{Team: team, Type: eventType, Points: penalties[eventType], Description: description}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
