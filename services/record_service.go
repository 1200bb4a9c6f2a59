// services/record_service.go
package services

import (
	"encoding/json"
	"fmt"
	"time"

	"cyber-range-orchestrator/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RecordService is the durable, transactional log of games, rounds, commands
// and events. Round history is the sole source of truth for scoring, so any
// failure here is fatal to the running game.
type RecordService struct {
	DB *gorm.DB
}

func NewRecordService(db *gorm.DB) *RecordService {
	return &RecordService{DB: db}
}

// CreateGame creates a new game session in pending state.
func (s *RecordService) CreateGame(scenario, attackerModel, defenderModel string, config map[string]any) (*models.Game, error) {
	var configJSON string
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("marshal game config: %w", err)
		}
		configJSON = string(raw)
	}

	game := &models.Game{
		ID:            uuid.NewString(),
		Scenario:      scenario,
		AttackerModel: attackerModel,
		DefenderModel: defenderModel,
		Status:        models.GameStatusPending,
		Winner:        "",
		Config:        configJSON,
	}

	if err := s.DB.Create(game).Error; err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	log.Info().Str("game_id", game.ID).Str("scenario", scenario).Msg("game created")
	return game, nil
}

// MarkRunning transitions a pending game to running.
func (s *RecordService) MarkRunning(gameID string) error {
	res := s.DB.Model(&models.Game{}).
		Where("id = ? AND status = ?", gameID, models.GameStatusPending).
		Update("status", models.GameStatusRunning)
	if res.Error != nil {
		return fmt.Errorf("mark game running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("game %s is not pending", gameID)
	}
	return nil
}

// LogRound persists one complete round as a single row. Both turns must be
// fully resolved before calling; a partial round is not representable.
func (s *RecordService) LogRound(gameID string, number int, phase string, attacker, defender models.TurnResult) (*models.Round, error) {
	round := &models.Round{
		ID:     uuid.NewString(),
		GameID: gameID,
		Number: number,
		Phase:  phase,

		AttackerObservation: attacker.Observation,
		AttackerReasoning:   attacker.Reasoning,
		AttackerAction:      attacker.Action,
		AttackerResult:      attacker.Result,
		AttackerSuccess:     attacker.Success,
		AttackerLatencyMS:   attacker.LatencyMS,

		DefenderObservation: defender.Observation,
		DefenderReasoning:   defender.Reasoning,
		DefenderAction:      defender.Action,
		DefenderResult:      defender.Result,
		DefenderSuccess:     defender.Success,
		DefenderLatencyMS:   defender.LatencyMS,
	}

	if err := s.DB.Create(round).Error; err != nil {
		return nil, fmt.Errorf("log round %d: %w", number, err)
	}
	return round, nil
}

// LogCommand records a dispatched command and its (possibly synthetic) result.
func (s *RecordService) LogCommand(gameID string, roundNumber int, team, target, command string, result GatewayResult, latencyMS int64) error {
	entry := &models.CommandLog{
		ID:          uuid.NewString(),
		GameID:      gameID,
		RoundNumber: roundNumber,
		Team:        team,
		Target:      target,
		Command:     command,
		ExitCode:    result.ExitCode,
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		LatencyMS:   latencyMS,
	}
	if err := s.DB.Create(entry).Error; err != nil {
		return fmt.Errorf("log command: %w", err)
	}
	return nil
}

// RecordEvent appends the event and applies its points to the team's score in
// one transaction, keeping score == sum of event points at all times.
func (s *RecordService) RecordEvent(gameID, roundID string, event ScoredEvent) error {
	column := "attacker_score"
	if event.Team == models.TeamDefender {
		column = "defender_score"
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		row := &models.Event{
			ID:          uuid.NewString(),
			GameID:      gameID,
			RoundID:     roundID,
			Team:        event.Team,
			Type:        event.Type,
			Points:      event.Points,
			Description: event.Description,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Model(&models.Game{}).
			Where("id = ?", gameID).
			Update(column, gorm.Expr(column+" + ?", event.Points)).Error
	})
	if err != nil {
		return fmt.Errorf("record event %s: %w", event.Type, err)
	}

	log.Info().
		Str("game_id", gameID).
		Str("team", event.Team).
		Str("event", event.Type).
		Int("points", event.Points).
		Msg("event recorded")
	return nil
}

// EndGame finalizes a game exactly once: winner, end time and terminal status.
func (s *RecordService) EndGame(gameID, winner, status string) error {
	now := time.Now()
	err := s.DB.Model(&models.Game{}).Where("id = ?", gameID).Updates(map[string]any{
		"status":   status,
		"winner":   winner,
		"end_time": &now,
	}).Error
	if err != nil {
		return fmt.Errorf("end game: %w", err)
	}

	log.Info().Str("game_id", gameID).Str("winner", winner).Str("status", status).Msg("game ended")
	return nil
}

// GetGame fetches a game by ID.
func (s *RecordService) GetGame(gameID string) (*models.Game, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return &game, nil
}

// GetGameScores returns the current attacker and defender scores.
func (s *RecordService) GetGameScores(gameID string) (int, int, error) {
	game, err := s.GetGame(gameID)
	if err != nil {
		return 0, 0, err
	}
	return game.AttackerScore, game.DefenderScore, nil
}

// GetRecentContext returns the most recent rounds for a game, newest first,
// for inclusion in an agent's decision context.
func (s *RecordService) GetRecentContext(gameID, team string, limit int) ([]models.Round, error) {
	_ = team // both turns live on the round row; callers pick their side
	var rounds []models.Round
	err := s.DB.Where("game_id = ?", gameID).
		Order("number DESC").
		Limit(limit).
		Find(&rounds).Error
	if err != nil {
		return nil, fmt.Errorf("get recent context: %w", err)
	}
	return rounds, nil
}

// GetRounds returns all rounds of a game in play order.
func (s *RecordService) GetRounds(gameID string) ([]models.Round, error) {
	var rounds []models.Round
	err := s.DB.Where("game_id = ?", gameID).Order("number ASC").Find(&rounds).Error
	if err != nil {
		return nil, fmt.Errorf("get rounds: %w", err)
	}
	return rounds, nil
}

// GetEvents returns all events of a game in recording order.
func (s *RecordService) GetEvents(gameID string) ([]models.Event, error) {
	var events []models.Event
	err := s.DB.Where("game_id = ?", gameID).Order("created_at ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return events, nil
}

// GetCommands returns the command log of a game in dispatch order.
func (s *RecordService) GetCommands(gameID string) ([]models.CommandLog, error) {
	var commands []models.CommandLog
	err := s.DB.Where("game_id = ?", gameID).Order("created_at ASC").Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("get commands: %w", err)
	}
	return commands, nil
}

// ListGames returns a page of games, newest first, optionally filtered by
// status, plus the total count for pagination.
func (s *RecordService) ListGames(page, perPage int, status string) ([]models.Game, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	query := s.DB.Model(&models.Game{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count games: %w", err)
	}

	var games []models.Game
	err := query.Order("start_time DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&games).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list games: %w", err)
	}
	return games, total, nil
}
