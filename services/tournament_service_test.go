package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyber-range-orchestrator/models"
)

type stubOutcome struct {
	winner        string
	attackerScore int
	defenderScore int
}

// stubRunner fabricates finished games from a fixed outcome sequence,
// failing at failAt (1-based) when set.
func stubRunner(outcomes []stubOutcome, failAt int) GameRunner {
	i := 0
	return func(_ context.Context, attackerModel, defenderModel string, scenario Scenario) (*models.Game, error) {
		i++
		if failAt > 0 && i == failAt {
			return nil, errors.New("range exploded")
		}
		out := outcomes[(i-1)%len(outcomes)]
		return &models.Game{
			ID:            uuid.NewString(),
			Scenario:      scenario.ID,
			AttackerModel: attackerModel,
			DefenderModel: defenderModel,
			Status:        models.GameStatusCompleted,
			Winner:        out.winner,
			AttackerScore: out.attackerScore,
			DefenderScore: out.defenderScore,
		}, nil
	}
}

func progressionConfig() TournamentConfig {
	return TournamentConfig{
		Name:          "Progression Run",
		Type:          models.TournamentTypeProgression,
		Scenario:      testScenario(),
		AttackerModel: "claude-sonnet-4",
		DefenderModel: "gpt-4o",
		GameCount:     3,
	}
}

func TestCreateTournamentRejectsUnknownType(t *testing.T) {
	svc := NewTournamentService(newTestDB(t), nil)

	_, err := svc.CreateTournament(TournamentConfig{Name: "bad", Type: "bracket"})
	assert.Error(t, err)
}

func TestProgressionAggregatesOutcomes(t *testing.T) {
	db := newTestDB(t)
	svc := NewTournamentService(db, stubRunner([]stubOutcome{
		{models.WinnerAttacker, 400, 100},
		{models.WinnerDefender, 50, 300},
		{models.WinnerNone, 200, 200},
	}, 0))

	cfg := progressionConfig()
	tournament, err := svc.CreateTournament(cfg)
	require.NoError(t, err)

	results, err := svc.Run(context.Background(), tournament.ID, cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, results.GamesPlayed)
	assert.Equal(t, 1, results.AttackerWins)
	assert.Equal(t, 1, results.DefenderWins)
	assert.Equal(t, 1, results.Draws)
	assert.InDelta(t, 216.7, results.AvgAttacker, 0.1)
	assert.InDelta(t, 200.0, results.AvgDefender, 0.1)
	assert.Equal(t, []string{models.WinnerAttacker, models.WinnerDefender, models.WinnerNone}, results.WinnersByGame)

	var stored models.Tournament
	require.NoError(t, db.First(&stored, "id = ?", tournament.ID).Error)
	assert.Equal(t, models.TournamentStatusCompleted, stored.Status)
	require.NotNil(t, stored.StartTime)
	require.NotNil(t, stored.EndTime)

	var links []models.TournamentGame
	require.NoError(t, db.Where("tournament_id = ?", tournament.ID).Order("game_number ASC").Find(&links).Error)
	require.Len(t, links, 3)
	for i, link := range links {
		assert.Equal(t, i+1, link.GameNumber)
	}
}

func TestComparisonLeaderboardOrdering(t *testing.T) {
	db := newTestDB(t)

	// strong wins everything, weak loses everything
	runner := func(_ context.Context, attackerModel, _ string, scenario Scenario) (*models.Game, error) {
		game := &models.Game{
			ID:       uuid.NewString(),
			Scenario: scenario.ID,
			Status:   models.GameStatusCompleted,
		}
		if attackerModel == "strong" {
			game.Winner = models.WinnerAttacker
			game.AttackerScore = 500
		} else {
			game.Winner = models.WinnerDefender
			game.AttackerScore = 80
		}
		return game, nil
	}
	svc := NewTournamentService(db, runner)

	cfg := TournamentConfig{
		Name:          "Model Comparison",
		Type:          models.TournamentTypeComparison,
		Scenario:      testScenario(),
		DefenderModel: "gpt-4o",
		Models:        []string{"weak", "strong"},
		GameCount:     2,
	}
	tournament, err := svc.CreateTournament(cfg)
	require.NoError(t, err)

	results, err := svc.Run(context.Background(), tournament.ID, cfg)
	require.NoError(t, err)

	require.Len(t, results.Leaderboard, 2)
	assert.Equal(t, "strong", results.Leaderboard[0].Model)
	assert.Equal(t, 1.0, results.Leaderboard[0].WinRate)
	assert.Equal(t, 500.0, results.Leaderboard[0].AvgScore)
	assert.Equal(t, "weak", results.Leaderboard[1].Model)
	assert.Equal(t, 0.0, results.Leaderboard[1].WinRate)
	assert.Equal(t, 4, results.GamesPlayed)
}

func TestComparisonTiebreakOnAvgScore(t *testing.T) {
	db := newTestDB(t)

	runner := func(_ context.Context, attackerModel, _ string, scenario Scenario) (*models.Game, error) {
		score := 100
		if attackerModel == "sharper" {
			score = 300
		}
		return &models.Game{
			ID:            uuid.NewString(),
			Scenario:      scenario.ID,
			Status:        models.GameStatusCompleted,
			Winner:        models.WinnerAttacker,
			AttackerScore: score,
		}, nil
	}
	svc := NewTournamentService(db, runner)

	cfg := TournamentConfig{
		Name:          "Tied Comparison",
		Type:          models.TournamentTypeComparison,
		Scenario:      testScenario(),
		DefenderModel: "gpt-4o",
		Models:        []string{"blunter", "sharper"},
		GameCount:     1,
	}
	tournament, err := svc.CreateTournament(cfg)
	require.NoError(t, err)

	results, err := svc.Run(context.Background(), tournament.ID, cfg)
	require.NoError(t, err)

	require.Len(t, results.Leaderboard, 2)
	assert.Equal(t, "sharper", results.Leaderboard[0].Model, "equal win rates fall back to average score")
}

func TestMasteryTracksWinsPerScenario(t *testing.T) {
	db := newTestDB(t)

	easy := testScenario()
	hard := testScenario()
	hard.ID = "hardened-bastion"

	runner := func(_ context.Context, _, _ string, scenario Scenario) (*models.Game, error) {
		winner := models.WinnerAttacker
		if scenario.ID == "hardened-bastion" {
			winner = models.WinnerDefender
		}
		return &models.Game{
			ID:       uuid.NewString(),
			Scenario: scenario.ID,
			Status:   models.GameStatusCompleted,
			Winner:   winner,
		}, nil
	}
	svc := NewTournamentService(db, runner)

	cfg := TournamentConfig{
		Name:          "Mastery Run",
		Type:          models.TournamentTypeMastery,
		Scenario:      easy,
		Scenarios:     []Scenario{easy, hard},
		AttackerModel: "claude-sonnet-4",
		DefenderModel: "gpt-4o",
		GameCount:     2,
	}
	tournament, err := svc.CreateTournament(cfg)
	require.NoError(t, err)

	results, err := svc.Run(context.Background(), tournament.ID, cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, results.GamesPlayed)
	assert.Equal(t, 2, results.PerScenario[easy.ID])
	assert.Zero(t, results.PerScenario[hard.ID])
}

func TestGameFailureFailsTournament(t *testing.T) {
	db := newTestDB(t)
	svc := NewTournamentService(db, stubRunner([]stubOutcome{
		{models.WinnerAttacker, 400, 100},
	}, 2))

	cfg := progressionConfig()
	tournament, err := svc.CreateTournament(cfg)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), tournament.ID, cfg)
	require.Error(t, err)

	var stored models.Tournament
	require.NoError(t, db.First(&stored, "id = ?", tournament.ID).Error)
	assert.Equal(t, models.TournamentStatusFailed, stored.Status)

	var linkCount int64
	require.NoError(t, db.Model(&models.TournamentGame{}).Where("tournament_id = ?", tournament.ID).Count(&linkCount).Error)
	assert.Equal(t, int64(1), linkCount, "only the game that finished gets linked")
}

func TestFormatReportIncludesLeaderboard(t *testing.T) {
	svc := NewTournamentService(newTestDB(t), nil)

	tournament := &models.Tournament{Name: "Spring Invitational", Type: models.TournamentTypeComparison}
	results := &TournamentResults{
		GamesPlayed:  2,
		AttackerWins: 1,
		DefenderWins: 1,
		Leaderboard: []TournamentStanding{
			{Model: "strong", Games: 1, Wins: 1, WinRate: 1.0, AvgScore: 500},
			{Model: "weak", Games: 1, Wins: 0, WinRate: 0.0, AvgScore: 80},
		},
	}

	report := svc.FormatReport(tournament, results)
	assert.Contains(t, report, "Spring Invitational")
	assert.Contains(t, report, "Model Comparison")
	assert.Contains(t, report, "1. strong")
	assert.Contains(t, report, "2. weak")
}
