package domain

import "time"

// UsageEvent is one metered operation against the external agent.
// Events are append-only; a written event is never mutated.
type UsageEvent struct {
	ID           string
	Timestamp    time.Time
	Tier         Tier
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	WorkItemID   string
	Autonomous   bool
}
