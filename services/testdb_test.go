package services

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cyber-range-orchestrator/models"
)

// newTestDB opens a fresh in-memory database with the full schema. Each call
// gets its own database so tests stay independent.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Game{},
		&models.Round{},
		&models.Event{},
		&models.CommandLog{},
		&models.Memory{},
		&models.Tournament{},
		&models.TournamentGame{},
	))
	return db
}
