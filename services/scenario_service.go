// services/scenario_service.go
package services

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
)

// Scenario describes one range layout: which containers play which role and
// where the objective flag lives.
type Scenario struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	AttackerContainer string   `json:"attacker_container"`
	TargetContainer   string   `json:"target_container"`
	FlagLocation      string   `json:"flag_location"`
	Services          []string `json:"services"`
	MaxRounds         int      `json:"max_rounds"`
}

// ScenarioService holds the scenario catalog, loaded from a JSON file with a
// built-in default always present.
type ScenarioService struct {
	scenarios map[string]Scenario
}

func defaultScenario() Scenario {
	return Scenario{
		ID:                "web-stack-breach",
		Name:              "Web Stack Breach",
		Description:       "A vulnerable web stack with an exposed SSH service. The attacker hunts the flag; the defender keeps the services alive.",
		AttackerContainer: "range-attacker",
		TargetContainer:   "range-target",
		FlagLocation:      "/root/flag.txt",
		Services:          []string{"ssh", "http", "mysql"},
		MaxRounds:         30,
	}
}

// NewScenarioService loads scenarios from the given catalog file. An empty
// path loads only the built-in default.
func NewScenarioService(catalogPath string) (*ScenarioService, error) {
	s := &ScenarioService{scenarios: map[string]Scenario{}}

	def := defaultScenario()
	s.scenarios[def.ID] = def

	if catalogPath == "" {
		return s, nil
	}

	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("read scenario catalog: %w", err)
	}

	var loaded []Scenario
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse scenario catalog: %w", err)
	}

	for _, sc := range loaded {
		if sc.ID == "" {
			sc.ID = slug.Make(sc.Name)
		}
		if err := validateScenario(sc); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		s.scenarios[sc.ID] = sc
	}

	log.Info().Int("count", len(s.scenarios)).Msg("scenario catalog loaded")
	return s, nil
}

func validateScenario(sc Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if sc.TargetContainer == "" {
		return fmt.Errorf("missing target_container")
	}
	if sc.AttackerContainer == "" {
		return fmt.Errorf("missing attacker_container")
	}
	if sc.FlagLocation == "" {
		return fmt.Errorf("missing flag_location")
	}
	if sc.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive")
	}
	return nil
}

// Get returns a scenario by ID.
func (s *ScenarioService) Get(id string) (Scenario, error) {
	sc, ok := s.scenarios[id]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q", id)
	}
	return sc, nil
}

// List returns all known scenarios.
func (s *ScenarioService) List() []Scenario {
	out := make([]Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, sc)
	}
	return out
}

// Default returns the built-in scenario.
func (s *ScenarioService) Default() Scenario {
	return defaultScenario()
}
