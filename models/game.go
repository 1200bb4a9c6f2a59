// models/game.go
package models

import (
	"time"
)

const (
	TeamAttacker = "attacker"
	TeamDefender = "defender"
)

const (
	GameStatusPending   = "pending"
	GameStatusRunning   = "running"
	GameStatusCompleted = "completed"
	GameStatusAborted   = "aborted"
)

const (
	WinnerAttacker = "attacker"
	WinnerDefender = "defender"
	WinnerNone     = "none"
)

const (
	PhaseReconnaissance      = "reconnaissance"
	PhaseInitialAccess       = "initial_access"
	PhasePrivilegeEscalation = "privilege_escalation"
	PhaseExfiltration        = "exfiltration"
)

// Game is one attacker-vs-defender session. Scores are only ever mutated by
// applying events; the winner is set exactly once when the game terminates.
type Game struct {
	ID            string `json:"id" gorm:"primaryKey"`
	Scenario      string `json:"scenario" gorm:"index;not null"`
	AttackerModel string `json:"attacker_model"`
	DefenderModel string `json:"defender_model"`
	Status        string `json:"status" gorm:"default:'pending';index"`
	AttackerScore int    `json:"attacker_score" gorm:"default:0"`
	DefenderScore int    `json:"defender_score" gorm:"default:0"`
	Winner        string `json:"winner,omitempty"`
	Config        string `json:"config,omitempty" gorm:"type:text"` // JSON blob: max_rounds, command_timeout, ...

	StartTime time.Time  `json:"start_time" gorm:"autoCreateTime;index"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Relationships
	Rounds []Round `json:"rounds,omitempty" gorm:"foreignKey:GameID"`
	Events []Event `json:"events,omitempty" gorm:"foreignKey:GameID"`
}

// Round holds both turns of one round as a single row, so a partially
// persisted round is not representable. Round numbers per game are contiguous
// starting at 1; the unique index rejects duplicates.
type Round struct {
	ID     string `json:"id" gorm:"primaryKey"`
	GameID string `json:"game_id" gorm:"not null;uniqueIndex:idx_game_round_number"`
	Number int    `json:"number" gorm:"not null;uniqueIndex:idx_game_round_number"`
	Phase  string `json:"phase"`

	AttackerObservation string `json:"attacker_observation" gorm:"type:text"`
	AttackerReasoning   string `json:"attacker_reasoning" gorm:"type:text"`
	AttackerAction      string `json:"attacker_action" gorm:"type:text"`
	AttackerResult      string `json:"attacker_result" gorm:"type:text"`
	AttackerSuccess     bool   `json:"attacker_success"`
	AttackerLatencyMS   int64  `json:"attacker_latency_ms"`

	DefenderObservation string `json:"defender_observation" gorm:"type:text"`
	DefenderReasoning   string `json:"defender_reasoning" gorm:"type:text"`
	DefenderAction      string `json:"defender_action" gorm:"type:text"`
	DefenderResult      string `json:"defender_result" gorm:"type:text"`
	DefenderSuccess     bool   `json:"defender_success"`
	DefenderLatencyMS   int64  `json:"defender_latency_ms"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Event is a scored, classified outcome derived from a round. Append-only: a
// team's game score is defined as the sum of its event points.
type Event struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	GameID      string    `json:"game_id" gorm:"index;not null"`
	RoundID     string    `json:"round_id" gorm:"index;not null"`
	Team        string    `json:"team" gorm:"not null"`
	Type        string    `json:"type" gorm:"not null"`
	Points      int       `json:"points"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// CommandLog records every command dispatched to a sandbox target, including
// the synthetic failure results produced when the gateway cannot reach it.
type CommandLog struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	GameID      string    `json:"game_id" gorm:"index;not null"`
	RoundNumber int       `json:"round_number"`
	Team        string    `json:"team"`
	Target      string    `json:"target"` // container name
	Command     string    `json:"command" gorm:"type:text"`
	ExitCode    int       `json:"exit_code"`
	Stdout      string    `json:"stdout" gorm:"type:text"`
	Stderr      string    `json:"stderr" gorm:"type:text"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}
