package app

import (
	"context"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// CostFunc derives the monetary cost of a metered operation at write time.
type CostFunc func(tier domain.Tier, inputTokens, outputTokens int) float64

// Ledger appends metered operations to the append-only usage record.
type Ledger struct {
	repo  Repository
	idGen IDGenerator
	clock Clock
	cost  CostFunc
}

// NewLedger constructs a Ledger.
func NewLedger(repo Repository, idGen IDGenerator, clock Clock, cost CostFunc) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	if cost == nil {
		cost = func(domain.Tier, int, int) float64 { return 0 }
	}
	return &Ledger{repo: repo, idGen: idGen, clock: clock, cost: cost}
}

// Record appends one usage event, deriving its cost from the tier pricing.
func (l *Ledger) Record(ctx context.Context, tier domain.Tier, inputTokens, outputTokens int, workItemID string, autonomous bool) (domain.UsageEvent, error) {
	event := domain.UsageEvent{
		ID:           l.idGen(),
		Timestamp:    l.clock().UTC(),
		Tier:         tier,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      l.cost(tier, inputTokens, outputTokens),
		WorkItemID:   workItemID,
		Autonomous:   autonomous,
	}
	if err := l.repo.AppendUsage(ctx, event); err != nil {
		return domain.UsageEvent{}, err
	}
	return event, nil
}

// UsageSummary aggregates ledger history over a lookback period.
type UsageSummary struct {
	TotalCostUSD      float64
	AutonomousCostUSD float64
	InputTokens       int
	OutputTokens      int
	EventCount        int
}

// Summarize aggregates the last lookback of ledger history.
func (l *Ledger) Summarize(ctx context.Context, lookback time.Duration) (UsageSummary, error) {
	events, err := l.repo.UsageSince(ctx, l.clock().Add(-lookback))
	if err != nil {
		return UsageSummary{}, err
	}
	var out UsageSummary
	for _, ev := range events {
		out.TotalCostUSD += ev.CostUSD
		out.InputTokens += ev.InputTokens
		out.OutputTokens += ev.OutputTokens
		out.EventCount++
		if ev.Autonomous {
			out.AutonomousCostUSD += ev.CostUSD
		}
	}
	return out, nil
}

// History returns ledger events from the last lookback, oldest first.
func (l *Ledger) History(ctx context.Context, lookback time.Duration) ([]domain.UsageEvent, error) {
	return l.repo.UsageSince(ctx, l.clock().Add(-lookback))
}
