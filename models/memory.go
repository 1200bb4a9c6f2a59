// models/memory.go
package models

import (
	"time"
)

const (
	MemoryTypeSuccessfulAttack   = "successful_attack"
	MemoryTypeFailedAttack       = "failed_attack"
	MemoryTypeDefensivePattern   = "defensive_pattern"
	MemoryTypeVulnerability      = "vulnerability"
	MemoryTypeEvasionTechnique   = "evasion_technique"
	MemoryTypeDetectionSignature = "detection_signature"
	MemoryTypeLearnedStrategy    = "learned_strategy"
)

// Memory is a cross-game learned pattern. A team's memory outlives any single
// game: it is keyed by team and optionally scoped by scenario and phase.
// Append-mostly: the only mutation is a bounded relevance boost, and the only
// deletion path is pruning.
type Memory struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	GameID     string    `json:"game_id" gorm:"index"`
	Team       string    `json:"team" gorm:"index;not null"`
	Type       string    `json:"type" gorm:"index"`
	Content    string    `json:"content" gorm:"type:text"`
	Successful bool      `json:"successful"`
	Scenario   string    `json:"scenario" gorm:"index"`
	Phase      string    `json:"phase" gorm:"index"`
	Context    string    `json:"context,omitempty" gorm:"type:text"` // JSON: command, access_level, ...
	Relevance  float64   `json:"relevance" gorm:"index"`             // 0.0 - 1.0
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
