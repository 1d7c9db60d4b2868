package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

func lifecycleFixture(t *testing.T, repo *fakeRepo, agent *fakeAgent, ws *fakeWorkspace) *Lifecycle {
	t.Helper()
	ledger := NewLedger(repo, seqIDs(), fixedClock(testStart), nil)
	return NewLifecycle(repo, agent, ws, ledger, nil, fixedClock(testStart), nil, LifecycleConfig{
		MaxTaskUSD:  2.0,
		MaxDailyUSD: 10.0,
		Timeout:     time.Minute,
		WorkDir:     "/work",
	})
}

func TestExecuteCompletes(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{
		Success: true, Output: "done", CostUSD: 0.25,
		InputTokens: 1000, OutputTokens: 500,
	}}
	ws := newFakeWorkspace()
	l := lifecycleFixture(t, repo, agent, ws)

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if got.State != domain.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.ResultSummary != "done" {
		t.Errorf("summary = %q", got.ResultSummary)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not stamped")
	}
	if len(repo.usage) != 1 {
		t.Fatalf("ledger events = %d, want 1", len(repo.usage))
	}
	if !repo.usage[0].Autonomous || repo.usage[0].WorkItemID != "w1" {
		t.Errorf("ledger event = %+v", repo.usage[0])
	}
}

func TestExecuteFailureIsTerminalNotError(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{Success: false, ErrorText: "agent crashed"}}
	l := lifecycleFixture(t, repo, agent, newFakeWorkspace())

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute returned error for an execution failure: %v", err)
	}

	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if got.State != domain.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if !strings.HasPrefix(got.ResultSummary, "Error: agent crashed") {
		t.Errorf("summary = %q", got.ResultSummary)
	}
	// The failed run still hits the ledger.
	if len(repo.usage) != 1 {
		t.Errorf("ledger events = %d, want 1", len(repo.usage))
	}
}

func TestExecuteNotPending(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StateRunning, 50)
	agent := &fakeAgent{result: AgentResult{Success: true}}
	l := lifecycleFixture(t, repo, agent, newFakeWorkspace())

	if err := l.Execute(context.Background(), item); !errors.Is(err, ErrNotPending) {
		t.Fatalf("Execute = %v, want ErrNotPending", err)
	}
	if agent.calls != 0 {
		t.Error("agent was invoked for a non-pending item")
	}
}

func TestExecuteCreatesAndRestoresBranch(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{Success: true, Output: "ok"}}
	ws := newFakeWorkspace()
	l := lifecycleFixture(t, repo, agent, ws)

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if len(ws.created) != 1 || ws.created[0] != "magpie/task-w1" {
		t.Errorf("created branches = %v", ws.created)
	}
	// Checkout restored, branch kept for review.
	if len(ws.checkouts) != 1 || ws.checkouts[0] != "main" {
		t.Errorf("checkouts = %v", ws.checkouts)
	}
	if len(ws.deleted) != 0 {
		t.Errorf("deleted branches = %v", ws.deleted)
	}
	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if got.WorkBranch != "magpie/task-w1" {
		t.Errorf("work branch = %q", got.WorkBranch)
	}
}

func TestExecuteBranchCollisionGetsSuffix(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "abcdef12-3456", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{Success: true}}
	ws := newFakeWorkspace()
	ws.existing["magpie/task-abcdef12-3456"] = true
	l := lifecycleFixture(t, repo, agent, ws)

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if len(ws.created) != 1 || ws.created[0] != "magpie/task-abcdef12-3456-abcdef12" {
		t.Errorf("created branches = %v", ws.created)
	}
}

func TestExecuteRefusesDirtyWorkspace(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{Success: true}}
	ws := newFakeWorkspace()
	ws.dirty = true
	l := lifecycleFixture(t, repo, agent, ws)

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if got.State != domain.StateFailed {
		t.Errorf("state = %s, want failed on dirty workspace", got.State)
	}
	if agent.calls != 0 {
		t.Error("agent ran without branch isolation")
	}
}

func TestExecuteOutsideRepoSkipsIsolation(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{Success: true, Output: "ok"}}
	ws := newFakeWorkspace()
	ws.isRepo = false
	l := lifecycleFixture(t, repo, agent, ws)

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if got.State != domain.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.WorkBranch != "" {
		t.Errorf("work branch = %q, want none", got.WorkBranch)
	}
}

func TestExecuteTruncatesSummary(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	agent := &fakeAgent{result: AgentResult{
		Success: true, Output: strings.Repeat("x", resultSummaryLimit+500),
	}}
	l := lifecycleFixture(t, repo, agent, newFakeWorkspace())

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetWorkItem(context.Background(), "w1")
	if len(got.ResultSummary) != resultSummaryLimit {
		t.Errorf("summary length = %d, want %d", len(got.ResultSummary), resultSummaryLimit)
	}
}

func TestExecuteBudgetCappedByDailyRemainder(t *testing.T) {
	repo := newFakeRepo()
	item := addItem(t, repo, "w1", domain.StatePending, 50)
	// $9 already spent today leaves $1 of the $10 cap, under the $2 task cap.
	if err := repo.AppendUsage(context.Background(), domain.UsageEvent{
		ID: "spend", Timestamp: testStart, Tier: domain.TierSonnet,
		CostUSD: 9.0, Autonomous: true,
	}); err != nil {
		t.Fatal(err)
	}
	agent := &fakeAgent{result: AgentResult{Success: true}}
	l := lifecycleFixture(t, repo, agent, newFakeWorkspace())

	if err := l.Execute(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if agent.last.MaxBudgetUSD != 1.0 {
		t.Errorf("task budget = %v, want 1.0", agent.last.MaxBudgetUSD)
	}
}

func TestSanitizeBranch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fix the Login Bug", "fix-the-login-bug"},
		{"weird !@# chars  here", "weird-chars-here"},
		{"--edges--", "edges"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeBranch(tt.in); got != tt.want {
			t.Errorf("sanitizeBranch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
