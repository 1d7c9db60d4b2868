package app

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

var testStart = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testEstimator(repo *fakeRepo, now time.Time) *Estimator {
	return NewEstimator(repo, seqIDs(), fixedClock(now), EstimatorConfig{
		WindowHours:  5,
		DefaultLimit: 225,
		TierLimits: map[domain.Tier]int{
			domain.TierHaiku:  450,
			domain.TierSonnet: 225,
			domain.TierOpus:   45,
		},
		SafetyMargin: 0.15,
		DefaultTier:  domain.TierSonnet,
	})
}

func recordUsage(t *testing.T, repo *fakeRepo, tier domain.Tier, at time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.AppendUsage(context.Background(), domain.UsageEvent{
			ID: "ev", Timestamp: at, Tier: tier,
		})
		if err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
	}
}

func TestEstimatorCreatesWindowLazily(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart)

	window, err := est.EnsureWindow(context.Background())
	if err != nil {
		t.Fatalf("EnsureWindow: %v", err)
	}
	if !window.Start.Equal(testStart) {
		t.Errorf("window start = %v, want %v", window.Start, testStart)
	}
	if window.Hours != 5 {
		t.Errorf("window hours = %d, want 5", window.Hours)
	}

	again, err := est.EnsureWindow(context.Background())
	if err != nil {
		t.Fatalf("EnsureWindow: %v", err)
	}
	if again.ID != window.ID {
		t.Error("second EnsureWindow created a new window")
	}
}

func TestEstimatorLedgerDerived(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart.Add(time.Hour))
	if _, err := est.EnsureWindow(context.Background()); err != nil {
		t.Fatal(err)
	}
	recordUsage(t, repo, domain.TierSonnet, testStart.Add(90*time.Minute), 50)
	// Other tiers do not count against sonnet.
	recordUsage(t, repo, domain.TierHaiku, testStart.Add(90*time.Minute), 20)

	got, err := est.Remaining(context.Background(), domain.TierSonnet)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if got.Used != 50 {
		t.Errorf("used = %d, want 50", got.Used)
	}
	if got.Remaining != 175 {
		t.Errorf("remaining = %d, want 175", got.Remaining)
	}
	if math.Abs(got.RemainingPct-77.78) > 0.01 {
		t.Errorf("remaining pct = %.2f, want 77.78", got.RemainingPct)
	}
	if got.SafetyReserved != 33 {
		t.Errorf("safety reserved = %d, want 33", got.SafetyReserved)
	}
	if got.AvailableForAutonomous != 142 {
		t.Errorf("available = %d, want 142", got.AvailableForAutonomous)
	}
}

func TestEstimatorNeverNegative(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart)
	if _, err := est.EnsureWindow(context.Background()); err != nil {
		t.Fatal(err)
	}
	recordUsage(t, repo, domain.TierOpus, testStart.Add(time.Minute), 100)

	got, err := est.Remaining(context.Background(), domain.TierOpus)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if got.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", got.Remaining)
	}
	if got.AvailableForAutonomous != 0 {
		t.Errorf("available = %d, want 0", got.AvailableForAutonomous)
	}
}

func TestEstimatorCorrectionSupersedesLedger(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart.Add(2*time.Hour))
	window, err := est.EnsureWindow(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Ledger claims 100 used, but the correction says only 40% used.
	recordUsage(t, repo, domain.TierSonnet, testStart.Add(10*time.Minute), 100)
	correctedAt := testStart.Add(time.Hour)
	if err := repo.InsertCorrection(context.Background(), domain.QuotaCorrection{
		ID: "c1", WindowID: window.ID, Tier: domain.TierSonnet,
		Scope: domain.ScopeSession, UsedPct: 40, CorrectedAt: correctedAt,
	}); err != nil {
		t.Fatal(err)
	}
	// 10 events after the correction are added back on top.
	recordUsage(t, repo, domain.TierSonnet, correctedAt.Add(time.Minute), 10)

	got, err := est.Remaining(context.Background(), domain.TierSonnet)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	// round((1 - 0.40) * 225) = 135, minus 10 after the correction.
	if got.Remaining != 125 {
		t.Errorf("remaining = %d, want 125", got.Remaining)
	}
	if got.Used != 100 {
		t.Errorf("used = %d, want 100", got.Used)
	}
}

func TestEstimatorCorrectionFullyUsed(t *testing.T) {
	repo := newFakeRepo()
	est := testEstimator(repo, testStart.Add(time.Hour))
	window, err := est.EnsureWindow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertCorrection(context.Background(), domain.QuotaCorrection{
		ID: "c1", WindowID: window.ID, Tier: domain.TierSonnet,
		Scope: domain.ScopeSession, UsedPct: 100, CorrectedAt: testStart.Add(30 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := est.Remaining(context.Background(), domain.TierSonnet)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if got.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", got.Remaining)
	}
}

func TestEstimatorTierLimitFallback(t *testing.T) {
	repo := newFakeRepo()
	est := NewEstimator(repo, seqIDs(), fixedClock(testStart), EstimatorConfig{
		WindowHours:  5,
		DefaultLimit: 225,
		TierLimits:   map[domain.Tier]int{domain.TierOpus: 45},
	})
	if got := est.TierLimit(domain.TierOpus); got != 45 {
		t.Errorf("opus limit = %d, want 45", got)
	}
	if got := est.TierLimit(domain.TierSonnet); got != 225 {
		t.Errorf("sonnet limit = %d, want 225 (scalar fallback)", got)
	}
}

func TestEstimatorHasBudget(t *testing.T) {
	repo := newFakeRepo()
	now := testStart.Add(time.Hour)
	est := testEstimator(repo, now)
	if _, err := est.EnsureWindow(context.Background()); err != nil {
		t.Fatal(err)
	}

	ok, err := est.HasBudget(context.Background(), 0.50, 10.0, domain.TierSonnet)
	if err != nil || !ok {
		t.Fatalf("HasBudget = %v, %v; want true", ok, err)
	}

	// Spend up to the cap; the next estimated task no longer fits.
	if err := repo.AppendUsage(context.Background(), domain.UsageEvent{
		ID: "spend", Timestamp: now, Tier: domain.TierSonnet,
		CostUSD: 9.80, Autonomous: true,
	}); err != nil {
		t.Fatal(err)
	}
	ok, err = est.HasBudget(context.Background(), 0.50, 10.0, domain.TierSonnet)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("HasBudget = true after daily cap nearly exhausted")
	}
}
