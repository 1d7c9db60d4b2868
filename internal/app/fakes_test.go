package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	mu          sync.Mutex
	usage       []domain.UsageEvent
	windows     []domain.QuotaWindow
	corrections []domain.QuotaCorrection
	items       map[string]domain.WorkItem
	maintenance map[string]time.Time
	patterns    map[[2]int]domain.SchedulePattern
	sessions    map[string]domain.ActivitySession

	failWith error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:       map[string]domain.WorkItem{},
		maintenance: map[string]time.Time{},
		patterns:    map[[2]int]domain.SchedulePattern{},
		sessions:    map[string]domain.ActivitySession{},
	}
}

func (r *fakeRepo) AppendUsage(_ context.Context, ev domain.UsageEvent) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, ev)
	return nil
}

func (r *fakeRepo) UsageSince(_ context.Context, since time.Time) ([]domain.UsageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UsageEvent
	for _, ev := range r.usage {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) TierUsageCount(_ context.Context, tier domain.Tier, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.usage {
		if ev.Tier == tier && !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) DailyAutonomousCost(_ context.Context, day time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	date := day.UTC().Format("2006-01-02")
	total := 0.0
	for _, ev := range r.usage {
		if ev.Autonomous && ev.Timestamp.UTC().Format("2006-01-02") == date {
			total += ev.CostUSD
		}
	}
	return total, nil
}

func (r *fakeRepo) InsertQuotaWindow(_ context.Context, w domain.QuotaWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
	return nil
}

func (r *fakeRepo) CurrentQuotaWindow(context.Context) (domain.QuotaWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.windows) == 0 {
		return domain.QuotaWindow{}, ErrNotFound
	}
	return r.windows[len(r.windows)-1], nil
}

func (r *fakeRepo) InsertCorrection(_ context.Context, c domain.QuotaCorrection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrections = append(r.corrections, c)
	return nil
}

func (r *fakeRepo) LatestCorrection(_ context.Context, windowID string, tier domain.Tier, scope domain.CorrectionScope) (domain.QuotaCorrection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.corrections) - 1; i >= 0; i-- {
		c := r.corrections[i]
		if c.WindowID == windowID && c.Tier == tier && c.Scope == scope {
			return c, nil
		}
	}
	return domain.QuotaCorrection{}, ErrNotFound
}

func (r *fakeRepo) CreateWorkItem(_ context.Context, item domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[item.ID]; exists {
		return fmt.Errorf("duplicate id %s", item.ID)
	}
	r.items[item.ID] = item
	return nil
}

func (r *fakeRepo) UpdateWorkItem(_ context.Context, item domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[item.ID]; !exists {
		return ErrNotFound
	}
	r.items[item.ID] = item
	return nil
}

func (r *fakeRepo) GetWorkItem(_ context.Context, id string) (domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.WorkItem{}, ErrNotFound
	}
	return item, nil
}

func (r *fakeRepo) DeleteWorkItem(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeRepo) sorted(filter func(domain.WorkItem) bool) []domain.WorkItem {
	var out []domain.WorkItem
	for _, item := range r.items {
		if filter == nil || filter(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *fakeRepo) ListWorkItems(context.Context) ([]domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(nil), nil
}

func (r *fakeRepo) WorkItemsByState(_ context.Context, states ...domain.WorkItemState) ([]domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(item domain.WorkItem) bool {
		for _, s := range states {
			if item.State == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *fakeRepo) CountByState(_ context.Context, state domain.WorkItemState) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.State == state {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) HasOriginRef(_ context.Context, origin domain.WorkItemOrigin, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.Origin == origin && item.OriginRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) MarkRunning(_ context.Context, id string, tier domain.Tier, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if item.State != domain.StatePending {
		return false, nil
	}
	item.State = domain.StateRunning
	item.Tier = tier
	ts := startedAt.UTC()
	item.StartedAt = &ts
	r.items[id] = item
	return true, nil
}

func (r *fakeRepo) LastMaintenanceCompletion(_ context.Context, taskType string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.maintenance[taskType]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *fakeRepo) UpsertSchedulePattern(_ context.Context, p domain.SchedulePattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[[2]int{p.DayOfWeek, p.Hour}] = p
	return nil
}

func (r *fakeRepo) ListSchedulePatterns(context.Context) ([]domain.SchedulePattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SchedulePattern
	for _, p := range r.patterns {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRepo) InsertActivitySession(_ context.Context, s domain.ActivitySession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeRepo) UpdateActivitySession(_ context.Context, s domain.ActivitySession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeRepo) RecentActivitySessions(_ context.Context, limit int) ([]domain.ActivitySession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ActivitySession
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fixedClock returns a Clock pinned to t.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// seqIDs returns an IDGenerator yielding id-1, id-2, ...
func seqIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// fakeQuotaSource returns a canned snapshot or error.
type fakeQuotaSource struct {
	snapshot UsageSnapshot
	err      error
}

func (s *fakeQuotaSource) Fetch(context.Context) (UsageSnapshot, error) {
	return s.snapshot, s.err
}

// fakeAgent returns a canned result and records the request.
type fakeAgent struct {
	result AgentResult
	last   AgentRequest
	calls  int
}

func (a *fakeAgent) Run(_ context.Context, req AgentRequest) AgentResult {
	a.calls++
	a.last = req
	return a.result
}

// fakeWorkspace is a scriptable Workspace.
type fakeWorkspace struct {
	isRepo   bool
	dirty    bool
	branch   string
	existing map[string]bool
	tracked  []string
	files    map[string]string

	created   []string
	checkouts []string
	merged    []string
	deleted   []string

	commitCount    int
	hasCommits     bool
	hasCodeChanges bool
	diff           string
	log            string
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{isRepo: true, branch: "main", existing: map[string]bool{}, files: map[string]string{}}
}

func (w *fakeWorkspace) IsRepo(string) bool { return w.isRepo }

func (w *fakeWorkspace) CurrentBranch(string) (string, error) { return w.branch, nil }

func (w *fakeWorkspace) HasUncommittedChanges(string) (bool, error) { return w.dirty, nil }

func (w *fakeWorkspace) BranchExists(_, name string) (bool, error) { return w.existing[name], nil }

func (w *fakeWorkspace) CreateBranch(_, name string) error {
	w.created = append(w.created, name)
	w.existing[name] = true
	w.branch = name
	return nil
}

func (w *fakeWorkspace) Checkout(_, branch string) error {
	w.checkouts = append(w.checkouts, branch)
	w.branch = branch
	return nil
}

func (w *fakeWorkspace) Merge(_, branch, target string) error {
	w.merged = append(w.merged, branch+"->"+target)
	return nil
}

func (w *fakeWorkspace) DeleteBranch(_, branch string) error {
	w.deleted = append(w.deleted, branch)
	delete(w.existing, branch)
	return nil
}

func (w *fakeWorkspace) Diff(_, _, _ string) (string, error) { return w.diff, nil }

func (w *fakeWorkspace) Log(_, _, _ string) (string, error) { return w.log, nil }

func (w *fakeWorkspace) TrackedFiles(string) ([]string, error) { return w.tracked, nil }

func (w *fakeWorkspace) HasCommitsSince(string, time.Time) (bool, error) { return w.hasCommits, nil }

func (w *fakeWorkspace) HasCodeChangesSince(string, time.Time) (bool, error) {
	return w.hasCodeChanges, nil
}

func (w *fakeWorkspace) BranchCommitCount(string) (int, error) { return w.commitCount, nil }

// fakeForecaster returns a fixed longest-idle forecast.
type fakeForecaster struct {
	hours float64
}

func (f *fakeForecaster) LongestIdleWithin(context.Context, int) (float64, error) {
	return f.hours, nil
}

// fakeProbe reports a scripted activity flag.
type fakeProbe struct {
	active bool
}

func (p *fakeProbe) Active(context.Context) bool { return p.active }
