// services/tournament_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cyber-range-orchestrator/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// GameRunner runs one complete game and returns its finalized row. The
// tournament coordinator stays ignorant of how agents and gateways are built.
type GameRunner func(ctx context.Context, attackerModel, defenderModel string, scenario Scenario) (*models.Game, error)

// TournamentConfig describes one tournament run.
type TournamentConfig struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Description   string     `json:"description"`
	Scenario      Scenario   `json:"scenario"`
	Scenarios     []Scenario `json:"scenarios,omitempty"`      // mastery mode
	AttackerModel string     `json:"attacker_model"`
	DefenderModel string     `json:"defender_model"`
	Models        []string   `json:"models,omitempty"` // comparison mode
	GameCount     int        `json:"game_count"`
}

// TournamentStanding is one row of the comparison leaderboard.
type TournamentStanding struct {
	Model    string  `json:"model"`
	Games    int     `json:"games"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	AvgScore float64 `json:"avg_score"`
}

// TournamentResults aggregates a completed tournament.
type TournamentResults struct {
	GamesPlayed   int                  `json:"games_played"`
	AttackerWins  int                  `json:"attacker_wins"`
	DefenderWins  int                  `json:"defender_wins"`
	Draws         int                  `json:"draws"`
	AvgAttacker   float64              `json:"avg_attacker_score"`
	AvgDefender   float64              `json:"avg_defender_score"`
	Leaderboard   []TournamentStanding `json:"leaderboard,omitempty"`
	PerScenario   map[string]int       `json:"wins_per_scenario,omitempty"`
	WinnersByGame []string             `json:"winners_by_game"`
}

// TournamentService runs batches of games sequentially. Agents and memory are
// shared across the batch via the injected runner, so later games benefit
// from earlier learnings.
type TournamentService struct {
	DB      *gorm.DB
	RunGame GameRunner
}

func NewTournamentService(db *gorm.DB, runGame GameRunner) *TournamentService {
	return &TournamentService{DB: db, RunGame: runGame}
}

// CreateTournament persists a new tournament in pending state.
func (s *TournamentService) CreateTournament(cfg TournamentConfig) (*models.Tournament, error) {
	switch cfg.Type {
	case models.TournamentTypeProgression, models.TournamentTypeComparison, models.TournamentTypeMastery:
	default:
		return nil, fmt.Errorf("unknown tournament type %q", cfg.Type)
	}
	if cfg.GameCount <= 0 {
		cfg.GameCount = 3
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal tournament config: %w", err)
	}

	tournament := &models.Tournament{
		ID:          uuid.NewString(),
		Name:        cfg.Name,
		Type:        cfg.Type,
		Description: cfg.Description,
		Config:      string(raw),
		Status:      models.TournamentStatusPending,
	}
	if err := s.DB.Create(tournament).Error; err != nil {
		return nil, fmt.Errorf("create tournament: %w", err)
	}

	log.Info().Str("tournament_id", tournament.ID).Str("type", cfg.Type).Msg("tournament created")
	return tournament, nil
}

// Run executes the tournament to completion. Any game failure fails the
// whole tournament and skips the remaining games.
func (s *TournamentService) Run(ctx context.Context, tournamentID string, cfg TournamentConfig) (*TournamentResults, error) {
	if err := s.markRunning(tournamentID); err != nil {
		return nil, err
	}

	var results *TournamentResults
	var err error
	switch cfg.Type {
	case models.TournamentTypeProgression:
		results, err = s.runProgression(ctx, tournamentID, cfg)
	case models.TournamentTypeComparison:
		results, err = s.runComparison(ctx, tournamentID, cfg)
	case models.TournamentTypeMastery:
		results, err = s.runMastery(ctx, tournamentID, cfg)
	default:
		err = fmt.Errorf("unknown tournament type %q", cfg.Type)
	}

	if err != nil {
		s.markFinished(tournamentID, models.TournamentStatusFailed, nil)
		return nil, err
	}

	if err := s.markFinished(tournamentID, models.TournamentStatusCompleted, results); err != nil {
		return nil, err
	}
	return results, nil
}

// runProgression plays the same pairing repeatedly on one scenario, tracking
// whether shared memory improves outcomes game over game.
func (s *TournamentService) runProgression(ctx context.Context, tournamentID string, cfg TournamentConfig) (*TournamentResults, error) {
	results := newResults()
	for i := 1; i <= cfg.GameCount; i++ {
		game, err := s.playGame(ctx, tournamentID, i, cfg.AttackerModel, cfg.DefenderModel, cfg.Scenario)
		if err != nil {
			return nil, err
		}
		results.fold(game)
	}
	results.finish()
	return results, nil
}

// runComparison plays each candidate model as attacker against the fixed
// defender, then ranks by win rate with average score as tiebreaker.
func (s *TournamentService) runComparison(ctx context.Context, tournamentID string, cfg TournamentConfig) (*TournamentResults, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("comparison tournament requires candidate models")
	}

	results := newResults()
	standings := make(map[string]*TournamentStanding)
	gameNumber := 0

	for _, model := range cfg.Models {
		standing := &TournamentStanding{Model: model}
		standings[model] = standing

		for i := 0; i < cfg.GameCount; i++ {
			gameNumber++
			game, err := s.playGame(ctx, tournamentID, gameNumber, model, cfg.DefenderModel, cfg.Scenario)
			if err != nil {
				return nil, err
			}
			results.fold(game)

			standing.Games++
			standing.AvgScore += float64(game.AttackerScore)
			if game.Winner == models.WinnerAttacker {
				standing.Wins++
			}
		}
	}

	for _, standing := range standings {
		if standing.Games > 0 {
			standing.AvgScore /= float64(standing.Games)
			standing.WinRate = float64(standing.Wins) / float64(standing.Games)
		}
		results.Leaderboard = append(results.Leaderboard, *standing)
	}
	sort.Slice(results.Leaderboard, func(i, j int) bool {
		a, b := results.Leaderboard[i], results.Leaderboard[j]
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.AvgScore > b.AvgScore
	})

	results.finish()
	return results, nil
}

// runMastery plays one pairing across every scenario in the set.
func (s *TournamentService) runMastery(ctx context.Context, tournamentID string, cfg TournamentConfig) (*TournamentResults, error) {
	scenarios := cfg.Scenarios
	if len(scenarios) == 0 {
		scenarios = []Scenario{cfg.Scenario}
	}

	results := newResults()
	results.PerScenario = make(map[string]int)
	gameNumber := 0

	for _, scenario := range scenarios {
		for i := 0; i < cfg.GameCount; i++ {
			gameNumber++
			game, err := s.playGame(ctx, tournamentID, gameNumber, cfg.AttackerModel, cfg.DefenderModel, scenario)
			if err != nil {
				return nil, err
			}
			results.fold(game)
			if game.Winner == models.WinnerAttacker {
				results.PerScenario[scenario.ID]++
			}
		}
	}

	results.finish()
	return results, nil
}

func (s *TournamentService) playGame(ctx context.Context, tournamentID string, gameNumber int, attackerModel, defenderModel string, scenario Scenario) (*models.Game, error) {
	game, err := s.RunGame(ctx, attackerModel, defenderModel, scenario)
	if err != nil {
		return nil, fmt.Errorf("tournament game %d: %w", gameNumber, err)
	}

	link := &models.TournamentGame{
		TournamentID: tournamentID,
		GameID:       game.ID,
		GameNumber:   gameNumber,
	}
	if err := s.DB.Create(link).Error; err != nil {
		return nil, fmt.Errorf("link tournament game: %w", err)
	}
	return game, nil
}

func (s *TournamentService) markRunning(tournamentID string) error {
	now := time.Now()
	res := s.DB.Model(&models.Tournament{}).
		Where("id = ? AND status = ?", tournamentID, models.TournamentStatusPending).
		Updates(map[string]any{"status": models.TournamentStatusRunning, "start_time": &now})
	if res.Error != nil {
		return fmt.Errorf("mark tournament running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tournament %s is not pending", tournamentID)
	}
	return nil
}

func (s *TournamentService) markFinished(tournamentID, status string, results *TournamentResults) error {
	now := time.Now()
	updates := map[string]any{"status": status, "end_time": &now}
	if results != nil {
		if raw, err := json.Marshal(results); err == nil {
			updates["config"] = string(raw)
		}
	}
	if err := s.DB.Model(&models.Tournament{}).Where("id = ?", tournamentID).Updates(updates).Error; err != nil {
		return fmt.Errorf("finish tournament: %w", err)
	}
	log.Info().Str("tournament_id", tournamentID).Str("status", status).Msg("tournament finished")
	return nil
}

func newResults() *TournamentResults {
	return &TournamentResults{}
}

func (r *TournamentResults) fold(game *models.Game) {
	r.GamesPlayed++
	r.AvgAttacker += float64(game.AttackerScore)
	r.AvgDefender += float64(game.DefenderScore)
	r.WinnersByGame = append(r.WinnersByGame, game.Winner)
	switch game.Winner {
	case models.WinnerAttacker:
		r.AttackerWins++
	case models.WinnerDefender:
		r.DefenderWins++
	default:
		r.Draws++
	}
}

func (r *TournamentResults) finish() {
	if r.GamesPlayed > 0 {
		r.AvgAttacker /= float64(r.GamesPlayed)
		r.AvgDefender /= float64(r.GamesPlayed)
	}
}

// FormatReport renders a human-readable tournament report.
func (s *TournamentService) FormatReport(tournament *models.Tournament, results *TournamentResults) string {
	title := cases.Title(language.English)

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", tournament.Name)
	fmt.Fprintf(&b, "%s\n\n", title.String(strings.ReplaceAll(tournament.Type, "_", " ")))
	fmt.Fprintf(&b, "Games played:   %d\n", results.GamesPlayed)
	fmt.Fprintf(&b, "Attacker wins:  %d\n", results.AttackerWins)
	fmt.Fprintf(&b, "Defender wins:  %d\n", results.DefenderWins)
	fmt.Fprintf(&b, "Draws:          %d\n", results.Draws)
	fmt.Fprintf(&b, "Avg scores:     attacker %.1f, defender %.1f\n", results.AvgAttacker, results.AvgDefender)

	if len(results.Leaderboard) > 0 {
		b.WriteString("\nLeaderboard:\n")
		for i, standing := range results.Leaderboard {
			fmt.Fprintf(&b, "  %d. %-40s win rate %.0f%%, avg score %.1f\n",
				i+1, standing.Model, standing.WinRate*100, standing.AvgScore)
		}
	}

	if len(results.PerScenario) > 0 {
		b.WriteString("\nAttacker wins per scenario:\n")
		ids := make([]string, 0, len(results.PerScenario))
		for id := range results.PerScenario {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "  %-30s %d\n", title.String(strings.ReplaceAll(id, "-", " ")), results.PerScenario[id])
		}
	}

	return b.String()
}
