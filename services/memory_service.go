// services/memory_service.go
package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cyber-range-orchestrator/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MemoryFilter selects memories for retrieval. Zero-value string fields mean
// "no filter"; Limit of 0 defaults to 10.
type MemoryFilter struct {
	Team           string
	Type           string
	Scenario       string
	Phase          string
	SuccessfulOnly bool
	MinRelevance   float64
	Limit          int
}

// MemoryCandidate is a pattern worth remembering, produced by AnalyzePattern.
type MemoryCandidate struct {
	Type      string
	Content   string
	Relevance float64
}

// LearningSummary aggregates what a team has accumulated so far.
type LearningSummary struct {
	TotalMemories   int            `json:"total_memories"`
	SuccessfulCount int            `json:"successful_count"`
	FailedCount     int            `json:"failed_count"`
	ByType          map[string]int `json:"by_type"`
}

// MemoryService stores cross-game learned patterns with cached retrieval.
// Writes (stores, boosts, prunes) are serialized per team so concurrent games
// cannot lose updates. The retrieval cache lives for the process lifetime and
// is invalidated only by ClearCache, never by new writes; retrieval results
// for a filter stay stable until an explicit clear.
type MemoryService struct {
	DB *gorm.DB

	cacheMu sync.RWMutex
	cache   map[string][]models.Memory

	teamMu sync.Mutex
	teams  map[string]*sync.Mutex
}

func NewMemoryService(db *gorm.DB) *MemoryService {
	return &MemoryService{
		DB:    db,
		cache: make(map[string][]models.Memory),
		teams: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryService) teamLock(team string) *sync.Mutex {
	s.teamMu.Lock()
	defer s.teamMu.Unlock()
	mu, ok := s.teams[team]
	if !ok {
		mu = &sync.Mutex{}
		s.teams[team] = mu
	}
	return mu
}

// StoreMemory appends a new memory entry and returns its ID.
func (s *MemoryService) StoreMemory(gameID, team, memoryType, content string, successful bool, scenario, phase string, context map[string]string, relevance float64) (string, error) {
	var contextJSON string
	if context != nil {
		raw, err := json.Marshal(context)
		if err != nil {
			return "", fmt.Errorf("marshal memory context: %w", err)
		}
		contextJSON = string(raw)
	}

	memory := &models.Memory{
		ID:         uuid.NewString(),
		GameID:     gameID,
		Team:       team,
		Type:       memoryType,
		Content:    content,
		Successful: successful,
		Scenario:   scenario,
		Phase:      phase,
		Context:    contextJSON,
		Relevance:  relevance,
	}

	mu := s.teamLock(team)
	mu.Lock()
	defer mu.Unlock()

	if err := s.DB.Create(memory).Error; err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}

	log.Debug().Str("team", team).Str("type", memoryType).Msg("memory stored")
	return memory.ID, nil
}

func cacheKey(f MemoryFilter) string {
	return fmt.Sprintf("%s_%s_%t_%s_%s", f.Team, f.Type, f.SuccessfulOnly, f.Scenario, f.Phase)
}

// RetrieveMemories returns memories matching the filter, ordered by relevance
// then recency. Results are cached per filter combination; repeated calls
// with the same filter return the cached rows even if new memories were
// stored meanwhile.
func (s *MemoryService) RetrieveMemories(f MemoryFilter) ([]models.Memory, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	key := cacheKey(f)
	s.cacheMu.RLock()
	cached, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		if len(cached) > limit {
			cached = cached[:limit]
		}
		return cached, nil
	}

	query := s.DB.Where("team = ? AND relevance >= ?", f.Team, f.MinRelevance)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.SuccessfulOnly {
		query = query.Where("successful = ?", true)
	}
	if f.Scenario != "" {
		query = query.Where("scenario = ?", f.Scenario)
	}
	if f.Phase != "" {
		query = query.Where("phase = ?", f.Phase)
	}

	var memories []models.Memory
	err := query.Order("relevance DESC, created_at DESC").Limit(limit).Find(&memories).Error
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[key] = memories
	s.cacheMu.Unlock()

	return memories, nil
}

// ClearCache drops all cached retrieval results. This is the only
// invalidation path.
func (s *MemoryService) ClearCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string][]models.Memory)
	s.cacheMu.Unlock()
	log.Debug().Msg("memory cache cleared")
}

// BoostRelevance raises a memory's relevance by delta, clamped to 1.0.
// Boosting an already-maxed memory is a no-op.
func (s *MemoryService) BoostRelevance(memoryID string, delta float64) error {
	var memory models.Memory
	if err := s.DB.First(&memory, "id = ?", memoryID).Error; err != nil {
		return fmt.Errorf("boost relevance: %w", err)
	}

	mu := s.teamLock(memory.Team)
	mu.Lock()
	defer mu.Unlock()

	boosted := memory.Relevance + delta
	if boosted > 1.0 {
		boosted = 1.0
	}
	err := s.DB.Model(&models.Memory{}).Where("id = ?", memoryID).Update("relevance", boosted).Error
	if err != nil {
		return fmt.Errorf("boost relevance: %w", err)
	}
	return nil
}

// PruneOldMemories deletes memories older than the cutoff whose relevance is
// below the floor. Memories at or above the floor survive regardless of age.
// This is the sole deletion path for memories.
func (s *MemoryService) PruneOldMemories(olderThan time.Duration, minRelevance float64) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.DB.Where("created_at < ? AND relevance < ?", cutoff, minRelevance).Delete(&models.Memory{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune memories: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		log.Info().Int64("deleted", res.RowsAffected).Msg("pruned old memories")
	}
	return res.RowsAffected, nil
}

// GetLearningSummary aggregates a team's stored memories, optionally scoped
// to a scenario.
func (s *MemoryService) GetLearningSummary(team, scenario string) (*LearningSummary, error) {
	memories, err := s.RetrieveMemories(MemoryFilter{
		Team:         team,
		Scenario:     scenario,
		MinRelevance: 0.4,
		Limit:        100,
	})
	if err != nil {
		return nil, err
	}

	summary := &LearningSummary{ByType: make(map[string]int)}
	for _, m := range memories {
		summary.TotalMemories++
		if m.Successful {
			summary.SuccessfulCount++
		} else {
			summary.FailedCount++
		}
		summary.ByType[m.Type]++
	}
	return summary, nil
}

// FormatMemoriesForPrompt renders the most relevant memories as two sections
// for an agent's decision context: strategies that worked and attempts that
// failed. Pure formatting over the retrieved list.
func (s *MemoryService) FormatMemoriesForPrompt(team, phase, scenario string, limit int) string {
	memories, err := s.RetrieveMemories(MemoryFilter{
		Team:         team,
		Scenario:     scenario,
		Phase:        phase,
		MinRelevance: 0.5,
		Limit:        limit,
	})
	if err != nil {
		log.Error().Err(err).Str("team", team).Msg("memory retrieval for prompt failed")
		return ""
	}
	if len(memories) == 0 {
		return "No previous learnings available for this scenario."
	}

	var successful, failed []models.Memory
	for _, m := range memories {
		if m.Successful {
			successful = append(successful, m)
		} else {
			failed = append(failed, m)
		}
	}

	var b strings.Builder
	b.WriteString("LEARNED FROM PAST GAMES:\n\n")

	if len(successful) > 0 {
		b.WriteString("SUCCESSFUL STRATEGIES:\n")
		for i, m := range successful {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "  %d. [%s] %s\n", i+1, m.Type, m.Content)
			if cmd := contextField(m.Context, "command"); cmd != "" {
				fmt.Fprintf(&b, "     Command: %s\n", cmd)
			}
		}
		b.WriteString("\n")
	}

	if len(failed) > 0 {
		b.WriteString("FAILED ATTEMPTS (avoid these):\n")
		for i, m := range failed {
			if i >= 2 {
				break
			}
			fmt.Fprintf(&b, "  %d. %s\n", i+1, m.Content)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func contextField(contextJSON, field string) string {
	if contextJSON == "" {
		return ""
	}
	var ctx map[string]string
	if err := json.Unmarshal([]byte(contextJSON), &ctx); err != nil {
		return ""
	}
	return ctx[field]
}

// AnalyzePattern inspects one executed turn and returns at most one memory
// candidate. Rules are ordered per team; the first match wins, and turns that
// match nothing produce no memory.
func (s *MemoryService) AnalyzePattern(team, command string, result GatewayResult, success bool, phase string) *MemoryCandidate {
	stdout := strings.ToLower(result.Stdout)

	if team == models.TeamAttacker {
		if strings.Contains(command, "nmap") && success && strings.Contains(stdout, "open") {
			return &MemoryCandidate{
				Type:      models.MemoryTypeSuccessfulAttack,
				Content:   fmt.Sprintf("Port scan successful: %s", command),
				Relevance: 0.6,
			}
		}
		if containsAny(command, "sqlmap", "metasploit", "hydra", "ssh") && success &&
			containsAny(stdout, "shell", "success", "admin", "root") {
			return &MemoryCandidate{
				Type:      models.MemoryTypeSuccessfulAttack,
				Content:   fmt.Sprintf("Exploitation succeeded in %s: %s", phase, command),
				Relevance: 0.9,
			}
		}
		if !success && (phase == models.PhaseInitialAccess || phase == models.PhasePrivilegeEscalation) {
			return &MemoryCandidate{
				Type:      models.MemoryTypeFailedAttack,
				Content:   fmt.Sprintf("Failed in %s: %s", phase, command),
				Relevance: 0.4,
			}
		}
		if strings.Contains(stdout, "vulnerable") {
			return &MemoryCandidate{
				Type:      models.MemoryTypeVulnerability,
				Content:   fmt.Sprintf("Vulnerability identified: %s", command),
				Relevance: 0.8,
			}
		}
		return nil
	}

	if team == models.TeamDefender {
		if strings.Contains(command, "grep") && success &&
			containsAny(stdout, "failed", "denied", "attack", "scan") {
			return &MemoryCandidate{
				Type:      models.MemoryTypeDetectionSignature,
				Content:   fmt.Sprintf("Detection pattern: %s", command),
				Relevance: 0.7,
			}
		}
		if strings.Contains(command, "iptables") && strings.Contains(command, "-j DROP") && success {
			return &MemoryCandidate{
				Type:      models.MemoryTypeDefensivePattern,
				Content:   fmt.Sprintf("Successfully blocked IP: %s", command),
				Relevance: 0.8,
			}
		}
		if success && containsAny(command, "systemctl", "service", "ps aux") {
			return &MemoryCandidate{
				Type:      models.MemoryTypeDefensivePattern,
				Content:   fmt.Sprintf("Effective monitoring: %s", command),
				Relevance: 0.5,
			}
		}
	}

	return nil
}
