// models/tournament.go
package models

import (
	"time"
)

const (
	TournamentTypeProgression = "learning_progression"
	TournamentTypeComparison  = "model_comparison"
	TournamentTypeMastery     = "scenario_mastery"
)

const (
	TournamentStatusPending   = "pending"
	TournamentStatusRunning   = "running"
	TournamentStatusCompleted = "completed"
	TournamentStatusFailed    = "failed"
)

// Tournament is a batch of games sharing configuration. Results are folded
// back into Config as a JSON blob once the run completes.
type Tournament struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Name        string     `json:"name" gorm:"not null"`
	Type        string     `json:"type" gorm:"not null"`
	Description string     `json:"description"`
	Config      string     `json:"config" gorm:"type:text"` // JSON
	Status      string     `json:"status" gorm:"default:'pending';index"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`

	// Relationship
	Games []TournamentGame `json:"games,omitempty" gorm:"foreignKey:TournamentID"`
}

// TournamentGame links a game to a tournament in sequence order.
type TournamentGame struct {
	TournamentID string `json:"tournament_id" gorm:"primaryKey"`
	GameID       string `json:"game_id" gorm:"primaryKey"`
	GameNumber   int    `json:"game_number" gorm:"not null"`
}
