// handlers/dashboard.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"cyber-range-orchestrator/models"
	"cyber-range-orchestrator/services"
)

// DashboardHandler serves the read-only observation API over recorded games.
type DashboardHandler struct {
	Record *services.RecordService
	Memory *services.MemoryService
	DB     *gorm.DB
}

func NewDashboardHandler(record *services.RecordService, memory *services.MemoryService, db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{Record: record, Memory: memory, DB: db}
}

// RegisterRoutes mounts all dashboard routes on the app.
func (h *DashboardHandler) RegisterRoutes(app *fiber.App, protected fiber.Handler) {
	app.Get("/health", h.Health)

	api := app.Group("/api", protected)
	api.Get("/games", h.ListGames)
	api.Get("/games/:id", h.GetGame)
	api.Get("/games/:id/rounds", h.GetRounds)
	api.Get("/games/:id/events", h.GetEvents)
	api.Get("/games/:id/commands", h.GetCommands)
	api.Get("/stats", h.GetStats)
	api.Get("/leaderboard", h.GetLeaderboard)
	api.Get("/memory/summary", h.GetMemorySummary)
}

func (h *DashboardHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *DashboardHandler) ListGames(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	perPage := c.QueryInt("per_page", 20)
	status := c.Query("status")

	games, total, err := h.Record.ListGames(page, perPage, status)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list games"})
	}

	return c.JSON(fiber.Map{
		"games":    games,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *DashboardHandler) GetGame(c *fiber.Ctx) error {
	game, err := h.Record.GetGame(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "game not found"})
	}
	return c.JSON(game)
}

func (h *DashboardHandler) GetRounds(c *fiber.Ctx) error {
	rounds, err := h.Record.GetRounds(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load rounds"})
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

func (h *DashboardHandler) GetEvents(c *fiber.Ctx) error {
	events, err := h.Record.GetEvents(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load events"})
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *DashboardHandler) GetCommands(c *fiber.Ctx) error {
	commands, err := h.Record.GetCommands(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load commands"})
	}
	return c.JSON(fiber.Map{"commands": commands})
}

// GetStats aggregates game outcomes across the whole record store.
func (h *DashboardHandler) GetStats(c *fiber.Ctx) error {
	var stats struct {
		TotalGames   int64   `json:"total_games"`
		Completed    int64   `json:"completed"`
		Running      int64   `json:"running"`
		Aborted      int64   `json:"aborted"`
		AttackerWins int64   `json:"attacker_wins"`
		DefenderWins int64   `json:"defender_wins"`
		Draws        int64   `json:"draws"`
		AvgAttacker  float64 `json:"avg_attacker_score"`
		AvgDefender  float64 `json:"avg_defender_score"`
	}

	h.DB.Model(&models.Game{}).Count(&stats.TotalGames)
	h.DB.Model(&models.Game{}).Where("status = ?", models.GameStatusCompleted).Count(&stats.Completed)
	h.DB.Model(&models.Game{}).Where("status = ?", models.GameStatusRunning).Count(&stats.Running)
	h.DB.Model(&models.Game{}).Where("status = ?", models.GameStatusAborted).Count(&stats.Aborted)
	h.DB.Model(&models.Game{}).Where("winner = ?", models.WinnerAttacker).Count(&stats.AttackerWins)
	h.DB.Model(&models.Game{}).Where("winner = ?", models.WinnerDefender).Count(&stats.DefenderWins)
	h.DB.Model(&models.Game{}).
		Where("status = ? AND winner = ?", models.GameStatusCompleted, models.WinnerNone).
		Count(&stats.Draws)

	var averages struct {
		AvgAttacker float64
		AvgDefender float64
	}
	h.DB.Model(&models.Game{}).
		Where("status = ?", models.GameStatusCompleted).
		Select("COALESCE(AVG(attacker_score), 0) AS avg_attacker, COALESCE(AVG(defender_score), 0) AS avg_defender").
		Scan(&averages)
	stats.AvgAttacker = averages.AvgAttacker
	stats.AvgDefender = averages.AvgDefender

	return c.JSON(stats)
}

// GetLeaderboard ranks attacker models by win rate over completed games.
func (h *DashboardHandler) GetLeaderboard(c *fiber.Ctx) error {
	var rows []struct {
		Model    string  `json:"model"`
		Games    int64   `json:"games"`
		Wins     int64   `json:"wins"`
		AvgScore float64 `json:"avg_score"`
	}

	err := h.DB.Model(&models.Game{}).
		Where("status = ?", models.GameStatusCompleted).
		Select(`attacker_model AS model,
			COUNT(*) AS games,
			SUM(CASE WHEN winner = ? THEN 1 ELSE 0 END) AS wins,
			COALESCE(AVG(attacker_score), 0) AS avg_score`, models.WinnerAttacker).
		Group("attacker_model").
		Order("wins DESC, avg_score DESC").
		Scan(&rows).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to build leaderboard"})
	}

	return c.JSON(fiber.Map{"leaderboard": rows})
}

func (h *DashboardHandler) GetMemorySummary(c *fiber.Ctx) error {
	team := c.Query("team")
	if team != models.TeamAttacker && team != models.TeamDefender {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "team must be attacker or defender"})
	}

	summary, err := h.Memory.GetLearningSummary(team, c.Query("scenario"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to build summary"})
	}
	return c.JSON(summary)
}
