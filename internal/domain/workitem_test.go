package domain

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// TestNewWorkItemDefaults verifies normalization of a minimal input.
func TestNewWorkItemDefaults(t *testing.T) {
	item, err := NewWorkItem(WorkItemInput{ID: "id-1", Title: "  Fix parser  "}, testNow)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	if item.Title != "Fix parser" {
		t.Fatalf("unexpected title %q", item.Title)
	}
	if item.Origin != OriginManual {
		t.Fatalf("unexpected origin %q", item.Origin)
	}
	if item.State != StatePending {
		t.Fatalf("unexpected state %q", item.State)
	}
}

// TestNewWorkItemValidation verifies rejected inputs.
func TestNewWorkItemValidation(t *testing.T) {
	cases := []struct {
		name string
		in   WorkItemInput
		want error
	}{
		{"empty id", WorkItemInput{Title: "t"}, ErrInvalidID},
		{"empty title", WorkItemInput{ID: "x"}, ErrInvalidTitle},
		{"bad origin", WorkItemInput{ID: "x", Title: "t", Origin: "carrier_pigeon"}, ErrInvalidOrigin},
		{"bad tier", WorkItemInput{ID: "x", Title: "t", Tier: "mega"}, ErrInvalidTier},
		{"priority over 100", WorkItemInput{ID: "x", Title: "t", Priority: 101}, ErrInvalidPriority},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewWorkItem(tc.in, testNow); !errors.Is(err, tc.want) {
				t.Fatalf("NewWorkItem() error = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestStateTransitions verifies the monotonic lifecycle.
func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from WorkItemState
		to   WorkItemState
		ok   bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StatePending, false},
		{StateCompleted, StateCancelled, true},
		{StateCompleted, StatePending, false},
		{StateFailed, StateRunning, false},
		{StateCancelled, StateRunning, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s -> %s) = %t, want %t", tc.from, tc.to, got, tc.ok)
		}
	}
}

// TestTransitionStampsTimestamps verifies start/completion timestamps.
func TestTransitionStampsTimestamps(t *testing.T) {
	item, err := NewWorkItem(WorkItemInput{ID: "id-1", Title: "t"}, testNow)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	started := testNow.Add(time.Minute)
	if err := item.Transition(StateRunning, started); err != nil {
		t.Fatalf("Transition(running) error = %v", err)
	}
	if item.StartedAt == nil || !item.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", item.StartedAt, started)
	}
	done := started.Add(time.Hour)
	if err := item.Transition(StateCompleted, done); err != nil {
		t.Fatalf("Transition(completed) error = %v", err)
	}
	if item.CompletedAt == nil || !item.CompletedAt.Equal(done) {
		t.Fatalf("CompletedAt = %v, want %v", item.CompletedAt, done)
	}
	if err := item.Transition(StateRunning, done); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition back to running error = %v, want %v", err, ErrInvalidTransition)
	}
}

// TestTierSaturation verifies upgrade/downgrade are no-ops at the ends.
func TestTierSaturation(t *testing.T) {
	if got := TierOpus.Upgrade(); got != TierOpus {
		t.Fatalf("Upgrade(opus) = %s, want opus", got)
	}
	if got := TierHaiku.Downgrade(); got != TierHaiku {
		t.Fatalf("Downgrade(haiku) = %s, want haiku", got)
	}
	if got := TierHaiku.Upgrade(); got != TierSonnet {
		t.Fatalf("Upgrade(haiku) = %s, want sonnet", got)
	}
	if got := TierOpus.Downgrade(); got != TierSonnet {
		t.Fatalf("Downgrade(opus) = %s, want sonnet", got)
	}
	if got := TierSonnet.Upgrade(); got != TierOpus {
		t.Fatalf("Upgrade(sonnet) = %s, want opus", got)
	}
}

// TestNewQuotaCorrectionValidation verifies correction bounds.
func TestNewQuotaCorrectionValidation(t *testing.T) {
	if _, err := NewQuotaCorrection("w1", TierSonnet, ScopeSession, 42, testNow); err != nil {
		t.Fatalf("NewQuotaCorrection() error = %v", err)
	}
	if _, err := NewQuotaCorrection("w1", TierSonnet, ScopeSession, 101, testNow); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("over-100 error = %v, want %v", err, ErrInvalidPercent)
	}
	if _, err := NewQuotaCorrection("w1", "mega", ScopeSession, 10, testNow); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("bad tier error = %v, want %v", err, ErrInvalidTier)
	}
	if _, err := NewQuotaCorrection("w1", TierSonnet, "month", 10, testNow); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("bad scope error = %v, want %v", err, ErrInvalidScope)
	}
}
