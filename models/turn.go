package models

// TurnResult is the fully resolved outcome of one team's turn, ready to be
// persisted as half of a Round. All fields are always populated; fallback
// decisions and synthetic gateway failures fill them with valid values.
type TurnResult struct {
	Observation string
	Reasoning   string
	Action      string
	Result      string
	Success     bool
	LatencyMS   int64
}

// Decision is what an agent wants to do next. Action carries the single
// command to dispatch; for the defender the sentinel "none" means no action.
// Metadata holds provider-specific extras (expected outcome, threat level).
type Decision struct {
	Reasoning string
	Action    string
	Metadata  map[string]string
}

// NoActionSentinel is the defender decision that skips dispatch entirely.
const NoActionSentinel = "none"
