package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cyber-range-orchestrator/agents"
	"cyber-range-orchestrator/handlers"
	"cyber-range-orchestrator/middleware"
	"cyber-range-orchestrator/models"
	"cyber-range-orchestrator/services"
	"cyber-range-orchestrator/utils"
	"cyber-range-orchestrator/workers"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	db, err := connectDB()
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	recordSvc := services.NewRecordService(db)
	scoringSvc := services.NewScoringService()
	memorySvc := services.NewMemoryService(db)

	scenarioSvc, err := services.NewScenarioService(os.Getenv("SCENARIO_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("scenario catalog failed to load")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pruneScheduler, err := workers.StartMemoryPruneWorker(memorySvc, envDuration("MEMORY_PRUNE_INTERVAL_HOURS", time.Hour, 6*time.Hour))
	if err != nil {
		log.Fatal().Err(err).Msg("prune worker failed to start")
	}
	defer func() { _ = pruneScheduler.Shutdown() }()

	if addr := os.Getenv("DASHBOARD_ADDR"); addr != "" {
		go serveDashboard(addr, recordSvc, memorySvc, db)
	}

	runMode := os.Getenv("RUN_MODE")
	if runMode == "" {
		runMode = "game"
	}

	switch runMode {
	case "game":
		runSingleGame(ctx, recordSvc, scoringSvc, memorySvc, scenarioSvc)
	case "tournament":
		runTournament(ctx, db, recordSvc, scoringSvc, memorySvc, scenarioSvc)
	case "serve":
		if os.Getenv("DASHBOARD_ADDR") == "" {
			serveDashboard(":8080", recordSvc, memorySvc, db)
			return
		}
		<-ctx.Done()
	default:
		log.Fatal().Str("run_mode", runMode).Msg("unknown run mode")
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("APP_ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func connectDB() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&models.Game{},
		&models.Round{},
		&models.Event{},
		&models.CommandLog{},
		&models.Memory{},
		&models.Tournament{},
		&models.TournamentGame{},
	)
	if err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func buildGateway() services.ExecutionGateway {
	timeout := envDuration("COMMAND_TIMEOUT_SECONDS", time.Second, 60*time.Second)
	gateway, err := services.NewDockerGateway(timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("docker gateway failed to initialize")
	}
	return gateway
}

func resolveScenario(scenarioSvc *services.ScenarioService) services.Scenario {
	id := os.Getenv("SCENARIO_ID")
	if id == "" {
		return scenarioSvc.Default()
	}
	scenario, err := scenarioSvc.Get(id)
	if err != nil {
		log.Fatal().Err(err).Msg("scenario not found")
	}
	return scenario
}

func modelSpec(role string) string {
	model := os.Getenv(role + "_MODEL")
	if model == "" {
		log.Fatal().Str("role", role).Msg("model not configured")
	}
	if provider := os.Getenv(role + "_PROVIDER"); provider != "" {
		return provider + "/" + model
	}
	return model
}

// gameRunner builds fresh agents around the shared memory for each game and
// runs it through the orchestrator.
func gameRunner(orchestrator *services.OrchestratorService, memorySvc *services.MemoryService) services.GameRunner {
	return func(ctx context.Context, attackerModel, defenderModel string, scenario services.Scenario) (*models.Game, error) {
		attackerClient, err := services.NewAIClient(attackerModel)
		if err != nil {
			return nil, err
		}
		defenderClient, err := services.NewAIClient(defenderModel)
		if err != nil {
			return nil, err
		}

		attacker := agents.NewAttackerAgent(attackerClient, memorySvc, scenario)
		defender := agents.NewDefenderAgent(defenderClient, memorySvc, scenario)

		return orchestrator.StartGame(ctx, attacker, defender, services.GameConfig{
			Scenario:      scenario,
			AttackerModel: attackerClient.ModelName(),
			DefenderModel: defenderClient.ModelName(),
			MaxRounds:     envInt("MAX_ROUNDS", 0),
			RoundDelay:    envDuration("ROUND_DELAY_MS", time.Millisecond, 0),
		})
	}
}

func runSingleGame(ctx context.Context, recordSvc *services.RecordService, scoringSvc *services.ScoringService, memorySvc *services.MemoryService, scenarioSvc *services.ScenarioService) {
	orchestrator := services.NewOrchestratorService(recordSvc, scoringSvc, memorySvc, buildGateway())
	run := gameRunner(orchestrator, memorySvc)

	game, err := run(ctx, modelSpec("ATTACKER"), modelSpec("DEFENDER"), resolveScenario(scenarioSvc))
	if err != nil {
		log.Fatal().Err(err).Msg("game failed")
	}

	log.Info().
		Str("game_id", game.ID).
		Str("winner", game.Winner).
		Int("attacker_score", game.AttackerScore).
		Int("defender_score", game.DefenderScore).
		Msg("game finished")

	archiveReplay(ctx, recordSvc, game)
}

func runTournament(ctx context.Context, db *gorm.DB, recordSvc *services.RecordService, scoringSvc *services.ScoringService, memorySvc *services.MemoryService, scenarioSvc *services.ScenarioService) {
	orchestrator := services.NewOrchestratorService(recordSvc, scoringSvc, memorySvc, buildGateway())
	tournamentSvc := services.NewTournamentService(db, gameRunner(orchestrator, memorySvc))

	cfg := services.TournamentConfig{
		Name:          envOr("TOURNAMENT_NAME", "Range Tournament"),
		Type:          envOr("TOURNAMENT_TYPE", models.TournamentTypeProgression),
		Scenario:      resolveScenario(scenarioSvc),
		AttackerModel: modelSpec("ATTACKER"),
		DefenderModel: modelSpec("DEFENDER"),
		GameCount:     envInt("GAME_COUNT", 3),
	}
	if cfg.Type == models.TournamentTypeComparison {
		cfg.Models = splitList(os.Getenv("COMPARE_MODELS"))
	}
	if cfg.Type == models.TournamentTypeMastery {
		cfg.Scenarios = scenarioSvc.List()
	}

	tournament, err := tournamentSvc.CreateTournament(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tournament creation failed")
	}

	results, err := tournamentSvc.Run(ctx, tournament.ID, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tournament failed")
	}

	fmt.Println(tournamentSvc.FormatReport(tournament, results))
}

// archiveReplay exports the finished game to object storage when a bucket is
// configured. Failures are logged, never fatal.
func archiveReplay(ctx context.Context, recordSvc *services.RecordService, game *models.Game) {
	bucket := os.Getenv("ARCHIVE_BUCKET")
	if bucket == "" {
		return
	}

	archiver, err := utils.NewReplayArchiver(ctx,
		os.Getenv("ARCHIVE_ENDPOINT"),
		envOr("ARCHIVE_REGION", "auto"),
		os.Getenv("ARCHIVE_ACCESS_KEY"),
		os.Getenv("ARCHIVE_SECRET_KEY"),
		bucket,
	)
	if err != nil {
		log.Error().Err(err).Msg("archiver init failed")
		return
	}

	rounds, err := recordSvc.GetRounds(game.ID)
	if err != nil {
		log.Error().Err(err).Msg("replay export failed")
		return
	}
	events, err := recordSvc.GetEvents(game.ID)
	if err != nil {
		log.Error().Err(err).Msg("replay export failed")
		return
	}
	commands, err := recordSvc.GetCommands(game.ID)
	if err != nil {
		log.Error().Err(err).Msg("replay export failed")
		return
	}

	if _, err := archiver.ArchiveGame(ctx, utils.GameReplay{
		Game:     game,
		Rounds:   rounds,
		Events:   events,
		Commands: commands,
	}); err != nil {
		log.Error().Err(err).Msg("replay upload failed")
	}
}

func serveDashboard(addr string, recordSvc *services.RecordService, memorySvc *services.MemoryService, db *gorm.DB) {
	app := fiber.New(fiber.Config{AppName: "cyber-range-orchestrator"})
	handler := handlers.NewDashboardHandler(recordSvc, memorySvc, db)
	handler.RegisterRoutes(app, middleware.BearerAuth(os.Getenv("DASHBOARD_TOKEN")))

	log.Info().Str("addr", addr).Msg("dashboard listening")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("dashboard server stopped")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, unit, fallback time.Duration) time.Duration {
	n := envInt(key, -1)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
