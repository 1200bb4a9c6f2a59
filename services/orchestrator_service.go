// services/orchestrator_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cyber-range-orchestrator/models"

	"github.com/rs/zerolog/log"
)

// Agent is one side of a game. Implementations keep their own tactical state;
// the coordinator only feeds them observations and executed results.
type Agent interface {
	Team() string
	SetPhase(phase string)
	Observe(ctx context.Context, telemetry string) string
	Decide(ctx context.Context, observation string) (models.Decision, error)
	Update(action string, result GatewayResult, success bool)
}

// GameConfig describes one game run.
type GameConfig struct {
	Scenario      Scenario
	AttackerModel string
	DefenderModel string
	MaxRounds     int
	RoundDelay    time.Duration
}

// Read-only telemetry probes run on the target before every defender turn.
// The battery is unconditional: the defender always sees fresh telemetry
// whether or not anything happened.
var telemetryProbes = []struct {
	label   string
	command string
}{
	{"Active connections", "netstat -tn 2>/dev/null | grep ESTABLISHED | head -20"},
	{"Failed auth attempts", "grep -i 'failed' /var/log/auth.log 2>/dev/null | tail -20"},
	{"Process count", "ps aux | wc -l"},
	{"Web access log", "tail -10 /var/log/apache2/access.log 2>/dev/null"},
	{"Recent files in /tmp", "find /tmp -mmin -10 -type f 2>/dev/null | head -10"},
	{"Firewall DROP rules", "iptables -L INPUT -v -n 2>/dev/null | grep DROP | wc -l"},
}

// OrchestratorService runs the alternating turn loop of a single game. It
// treats AI and gateway failures as recoverable and record store failures as
// fatal.
type OrchestratorService struct {
	Record  *RecordService
	Scoring *ScoringService
	Memory  *MemoryService
	Gateway ExecutionGateway
}

func NewOrchestratorService(record *RecordService, scoring *ScoringService, memory *MemoryService, gateway ExecutionGateway) *OrchestratorService {
	return &OrchestratorService{
		Record:  record,
		Scoring: scoring,
		Memory:  memory,
		Gateway: gateway,
	}
}

type turnOutcome struct {
	team      string
	turn      models.TurnResult
	action    string
	result    GatewayResult
	penalties []ScoredEvent
}

// StartGame runs a full game to completion and returns the finalized game
// row. The game always reaches a terminal status: completed on a win
// condition, aborted on record store failure or context cancellation.
func (s *OrchestratorService) StartGame(ctx context.Context, attacker, defender Agent, cfg GameConfig) (*models.Game, error) {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = cfg.Scenario.MaxRounds
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 30
	}

	game, err := s.Record.CreateGame(cfg.Scenario.ID, cfg.AttackerModel, cfg.DefenderModel, map[string]any{
		"max_rounds":    cfg.MaxRounds,
		"flag_location": cfg.Scenario.FlagLocation,
	})
	if err != nil {
		return nil, err
	}

	for _, target := range []string{cfg.Scenario.AttackerContainer, cfg.Scenario.TargetContainer} {
		if err := s.Gateway.VerifyTarget(ctx, target); err != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return nil, fmt.Errorf("range not ready: %w", err)
		}
	}

	if err := s.Record.MarkRunning(game.ID); err != nil {
		return nil, err
	}

	log.Info().
		Str("game_id", game.ID).
		Str("scenario", cfg.Scenario.ID).
		Int("max_rounds", cfg.MaxRounds).
		Msg("game started")

	for roundNumber := 1; roundNumber <= cfg.MaxRounds; roundNumber++ {
		if ctx.Err() != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return s.Record.GetGame(game.ID)
		}

		phase := s.Scoring.Phase(roundNumber)
		attacker.SetPhase(phase)
		defender.SetPhase(phase)

		attackerOut, err := s.runTurn(ctx, attacker, game.ID, roundNumber, cfg.Scenario.AttackerContainer, "")
		if err != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return nil, err
		}

		telemetry := s.collectTelemetry(ctx, cfg.Scenario.TargetContainer)
		defenderOut, err := s.runTurn(ctx, defender, game.ID, roundNumber, cfg.Scenario.TargetContainer, telemetry)
		if err != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return nil, err
		}

		round, err := s.Record.LogRound(game.ID, roundNumber, phase, attackerOut.turn, defenderOut.turn)
		if err != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return nil, err
		}

		events := s.Scoring.EvaluateRound(round)
		events = append(events, attackerOut.penalties...)
		events = append(events, defenderOut.penalties...)

		for _, event := range events {
			if err := s.Record.RecordEvent(game.ID, round.ID, event); err != nil {
				s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
				return nil, err
			}
		}

		s.analyzeTurn(game.ID, attackerOut, cfg.Scenario.ID, phase)
		s.analyzeTurn(game.ID, defenderOut, cfg.Scenario.ID, phase)

		attackerScore, defenderScore, err := s.Record.GetGameScores(game.ID)
		if err != nil {
			s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
			return nil, err
		}

		log.Info().
			Str("game_id", game.ID).
			Int("round", roundNumber).
			Str("phase", phase).
			Int("attacker_score", attackerScore).
			Int("defender_score", defenderScore).
			Msg("round complete")

		over, winner := s.Scoring.CheckWinConditions(events, roundNumber, cfg.MaxRounds, attackerScore, defenderScore)
		if over {
			if err := s.Record.EndGame(game.ID, winner, models.GameStatusCompleted); err != nil {
				return nil, err
			}
			return s.Record.GetGame(game.ID)
		}

		if cfg.RoundDelay > 0 {
			select {
			case <-time.After(cfg.RoundDelay):
			case <-ctx.Done():
			}
		}
	}

	// Unreachable: CheckWinConditions always ends the game at the round cap.
	s.finalize(game.ID, models.WinnerNone, models.GameStatusAborted)
	return s.Record.GetGame(game.ID)
}

func (s *OrchestratorService) finalize(gameID, winner, status string) {
	if err := s.Record.EndGame(gameID, winner, status); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to finalize game")
	}
}

// runTurn drives one agent through observe, decide, execute and update. AI
// and gateway failures degrade to safe fallbacks; only record store failures
// return an error.
func (s *OrchestratorService) runTurn(ctx context.Context, agent Agent, gameID string, roundNumber int, target, telemetry string) (turnOutcome, error) {
	team := agent.Team()
	start := time.Now()

	observation := agent.Observe(ctx, telemetry)
	if history := s.recentHistory(gameID, team, 3); history != "" {
		observation += "\n" + history
	}

	decision, err := agent.Decide(ctx, observation)
	var penalties []ScoredEvent
	if err != nil {
		log.Warn().Err(err).Str("team", team).Int("round", roundNumber).Msg("decision failed, holding position")
		decision = models.Decision{
			Reasoning: "Decision unavailable, holding position.",
			Action:    models.NoActionSentinel,
		}
	}
	if decision.Metadata["fallback"] == "true" {
		penalties = append(penalties, s.Scoring.PenaltyFor(team, EventInvalidCommand, "Agent produced unparseable output"))
	}

	var result GatewayResult
	success := true
	resultText := "no action taken"

	if decision.Action != models.NoActionSentinel && decision.Action != "" {
		execStart := time.Now()
		result = s.Gateway.Execute(ctx, target, decision.Action)
		execLatency := time.Since(execStart).Milliseconds()

		if err := s.Record.LogCommand(gameID, roundNumber, team, target, decision.Action, result, execLatency); err != nil {
			return turnOutcome{}, err
		}

		success = result.ExitCode == 0
		resultText = result.Stdout
		if resultText == "" {
			resultText = result.Stderr
		}
		if result.ExitCode == -1 && strings.Contains(result.Stderr, "timed out") {
			penalties = append(penalties, s.Scoring.PenaltyFor(team, EventCommandTimeout, "Command timed out"))
		}
	}

	agent.Update(decision.Action, result, success)

	return turnOutcome{
		team: team,
		turn: models.TurnResult{
			Observation: observation,
			Reasoning:   decision.Reasoning,
			Action:      decision.Action,
			Result:      resultText,
			Success:     success,
			LatencyMS:   time.Since(start).Milliseconds(),
		},
		action:    decision.Action,
		result:    result,
		penalties: penalties,
	}, nil
}

// recentHistory renders the team's side of the latest rounds, newest first,
// for inclusion in its decision context. A read failure degrades the prompt
// instead of ending the game.
func (s *OrchestratorService) recentHistory(gameID, team string, limit int) string {
	rounds, err := s.Record.GetRecentContext(gameID, team, limit)
	if err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("recent context unavailable")
		return ""
	}
	if len(rounds) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("PREVIOUS ROUNDS (newest first):\n")
	for _, round := range rounds {
		action, result := round.DefenderAction, round.DefenderResult
		if team == models.TeamAttacker {
			action, result = round.AttackerAction, round.AttackerResult
		}
		if len(result) > 200 {
			result = result[:200] + "..."
		}
		fmt.Fprintf(&b, "Round %d [%s]: %s -> %s\n", round.Number, round.Phase, action, result)
	}
	return b.String()
}

// collectTelemetry runs the probe battery against the target and renders the
// labelled sections. Probe failures degrade to an "unavailable" line.
func (s *OrchestratorService) collectTelemetry(ctx context.Context, target string) string {
	var b strings.Builder
	b.WriteString("SYSTEM TELEMETRY:\n")
	for _, probe := range telemetryProbes {
		res := s.Gateway.Execute(ctx, target, probe.command)
		b.WriteString("## " + probe.label + "\n")
		out := strings.TrimSpace(res.Stdout)
		if res.ExitCode != 0 || out == "" {
			b.WriteString("(unavailable)\n")
			continue
		}
		b.WriteString(out + "\n")
	}
	return b.String()
}

// analyzeTurn stores at most one learned pattern from the turn. Memory
// failures never affect the game.
func (s *OrchestratorService) analyzeTurn(gameID string, out turnOutcome, scenario, phase string) {
	if out.action == "" || out.action == models.NoActionSentinel {
		return
	}

	candidate := s.Memory.AnalyzePattern(out.team, out.action, out.result, out.turn.Success, phase)
	if candidate == nil {
		return
	}
	_, err := s.Memory.StoreMemory(gameID, out.team, candidate.Type, candidate.Content,
		out.turn.Success, scenario, phase,
		map[string]string{"command": out.action}, candidate.Relevance)
	if err != nil {
		log.Warn().Err(err).Str("team", out.team).Msg("failed to store memory")
	}
}
