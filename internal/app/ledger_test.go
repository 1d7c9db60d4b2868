package app

import (
	"context"
	"testing"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

func TestLedgerRecordDerivesCost(t *testing.T) {
	repo := newFakeRepo()
	cost := func(tier domain.Tier, in, out int) float64 {
		if tier != domain.TierSonnet {
			t.Errorf("cost called with tier %s", tier)
		}
		return float64(in+out) / 1000
	}
	l := NewLedger(repo, seqIDs(), fixedClock(testStart), cost)

	ev, err := l.Record(context.Background(), domain.TierSonnet, 800, 200, "w1", true)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.CostUSD != 1.0 {
		t.Errorf("cost = %v, want 1.0", ev.CostUSD)
	}
	if len(repo.usage) != 1 {
		t.Fatalf("events stored = %d, want 1", len(repo.usage))
	}
	if !repo.usage[0].Autonomous || repo.usage[0].WorkItemID != "w1" {
		t.Errorf("stored event = %+v", repo.usage[0])
	}
}

func TestLedgerSummarize(t *testing.T) {
	repo := newFakeRepo()
	l := NewLedger(repo, seqIDs(), fixedClock(testStart), nil)

	events := []domain.UsageEvent{
		{ID: "a", Timestamp: testStart.Add(-time.Hour), CostUSD: 1.0, InputTokens: 100, OutputTokens: 50, Autonomous: true},
		{ID: "b", Timestamp: testStart.Add(-30 * time.Minute), CostUSD: 0.5, InputTokens: 40, OutputTokens: 10},
		// Outside the lookback.
		{ID: "c", Timestamp: testStart.Add(-48 * time.Hour), CostUSD: 9.0, Autonomous: true},
	}
	for _, ev := range events {
		if err := repo.AppendUsage(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Summarize(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.EventCount != 2 {
		t.Errorf("event count = %d, want 2", got.EventCount)
	}
	if got.TotalCostUSD != 1.5 {
		t.Errorf("total cost = %v, want 1.5", got.TotalCostUSD)
	}
	if got.AutonomousCostUSD != 1.0 {
		t.Errorf("autonomous cost = %v, want 1.0", got.AutonomousCostUSD)
	}
	if got.InputTokens != 140 || got.OutputTokens != 60 {
		t.Errorf("tokens = %d/%d, want 140/60", got.InputTokens, got.OutputTokens)
	}
}

func TestCorrectionsApply(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart)
	c := NewCorrections(repo, est, nil, seqIDs(), fixedClock(testStart), nil)

	got, err := c.Apply(context.Background(), domain.TierSonnet, domain.ScopeSession, 62.5)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.UsedPct != 62.5 || got.Scope != domain.ScopeSession {
		t.Errorf("correction = %+v", got)
	}
	if len(repo.corrections) != 1 {
		t.Fatalf("stored corrections = %d, want 1", len(repo.corrections))
	}
	// The correction lands on the lazily created window.
	window, err := repo.CurrentQuotaWindow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if repo.corrections[0].WindowID != window.ID {
		t.Error("correction not bound to the current window")
	}
}

func TestCorrectionsApplyRejectsInvalid(t *testing.T) {
	repo := newFakeRepo()
	c := NewCorrections(repo, testEstimator(repo, testStart), nil, seqIDs(), fixedClock(testStart), nil)

	if _, err := c.Apply(context.Background(), domain.TierSonnet, domain.ScopeSession, 120); err == nil {
		t.Error("accepted percent over 100")
	}
	if _, err := c.Apply(context.Background(), domain.TierSonnet, "month", 50); err == nil {
		t.Error("accepted unknown scope")
	}
	if _, err := c.Apply(context.Background(), "mega", domain.ScopeSession, 50); err == nil {
		t.Error("accepted unknown tier")
	}
}

func TestCorrectionsAutoSync(t *testing.T) {
	repo := newFakeRepo()
	weekPct := 33.0
	source := &fakeQuotaSource{snapshot: UsageSnapshot{SessionPct: 58, WeekPct: &weekPct}}
	c := NewCorrections(repo, testEstimator(repo, testStart), source, seqIDs(), fixedClock(testStart), nil)

	if ok := c.AutoSync(context.Background()); !ok {
		t.Fatal("AutoSync = false")
	}
	if len(repo.corrections) != 2 {
		t.Fatalf("stored corrections = %d, want session + week", len(repo.corrections))
	}
	if repo.corrections[0].Scope != domain.ScopeSession || repo.corrections[0].UsedPct != 58 {
		t.Errorf("session correction = %+v", repo.corrections[0])
	}
	if repo.corrections[1].Scope != domain.ScopeWeek || repo.corrections[1].UsedPct != 33 {
		t.Errorf("week correction = %+v", repo.corrections[1])
	}
}

func TestCorrectionsAutoSyncFetchFailure(t *testing.T) {
	repo := newFakeRepo()
	source := &fakeQuotaSource{err: context.DeadlineExceeded}
	c := NewCorrections(repo, testEstimator(repo, testStart), source, seqIDs(), fixedClock(testStart), nil)

	if ok := c.AutoSync(context.Background()); ok {
		t.Error("AutoSync = true on fetch failure")
	}
	if len(repo.corrections) != 0 {
		t.Errorf("stored corrections = %d, want 0", len(repo.corrections))
	}
}
