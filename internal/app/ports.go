package app

import (
	"context"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// Repository is the persistence port for all scheduler state.
type Repository interface {
	AppendUsage(context.Context, domain.UsageEvent) error
	UsageSince(context.Context, time.Time) ([]domain.UsageEvent, error)
	TierUsageCount(context.Context, domain.Tier, time.Time) (int, error)
	DailyAutonomousCost(context.Context, time.Time) (float64, error)

	InsertQuotaWindow(context.Context, domain.QuotaWindow) error
	CurrentQuotaWindow(context.Context) (domain.QuotaWindow, error)

	InsertCorrection(context.Context, domain.QuotaCorrection) error
	LatestCorrection(ctx context.Context, windowID string, tier domain.Tier, scope domain.CorrectionScope) (domain.QuotaCorrection, error)

	CreateWorkItem(context.Context, domain.WorkItem) error
	UpdateWorkItem(context.Context, domain.WorkItem) error
	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	DeleteWorkItem(context.Context, string) error
	ListWorkItems(context.Context) ([]domain.WorkItem, error)
	WorkItemsByState(context.Context, ...domain.WorkItemState) ([]domain.WorkItem, error)
	CountByState(context.Context, domain.WorkItemState) (int, error)
	HasOriginRef(ctx context.Context, origin domain.WorkItemOrigin, ref string) (bool, error)
	// MarkRunning performs the atomic pending->running transition. It
	// reports false when the item was not pending, so two schedulers can
	// never admit the same item.
	MarkRunning(ctx context.Context, id string, tier domain.Tier, startedAt time.Time) (bool, error)
	LastMaintenanceCompletion(ctx context.Context, taskType string) (*time.Time, error)

	UpsertSchedulePattern(context.Context, domain.SchedulePattern) error
	ListSchedulePatterns(context.Context) ([]domain.SchedulePattern, error)
	InsertActivitySession(context.Context, domain.ActivitySession) error
	UpdateActivitySession(context.Context, domain.ActivitySession) error
	RecentActivitySessions(context.Context, int) ([]domain.ActivitySession, error)
}

// AgentRequest describes one external agent invocation.
type AgentRequest struct {
	Prompt       string
	WorkDir      string
	Tier         domain.Tier
	MaxBudgetUSD float64
	Timeout      time.Duration
}

// AgentResult is the outcome of one external agent invocation. Failures are
// carried in the result, never raised into the scheduler.
type AgentResult struct {
	Success      bool
	Output       string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	ErrorText    string
}

// AgentRunner runs one instruction against the external agent capability.
type AgentRunner interface {
	Run(context.Context, AgentRequest) AgentResult
}

// UsageSnapshot carries externally reported usage percentages.
type UsageSnapshot struct {
	SessionPct      float64
	WeekPct         *float64
	SessionResetsAt *time.Time
}

// QuotaSource fetches externally reported usage. Any network or credential
// failure is returned as an error and treated as degraded data by callers.
type QuotaSource interface {
	Fetch(context.Context) (UsageSnapshot, error)
}

// Workspace is the version-control isolation port.
type Workspace interface {
	IsRepo(dir string) bool
	CurrentBranch(dir string) (string, error)
	HasUncommittedChanges(dir string) (bool, error)
	BranchExists(dir, name string) (bool, error)
	CreateBranch(dir, name string) error
	Checkout(dir, branch string) error
	Merge(dir, branch, target string) error
	DeleteBranch(dir, branch string) error
	Diff(dir, branch, base string) (string, error)
	Log(dir, branch, base string) (string, error)
	TrackedFiles(dir string) ([]string, error)
	HasCommitsSince(dir string, since time.Time) (bool, error)
	HasCodeChangesSince(dir string, since time.Time) (bool, error)
	BranchCommitCount(dir string) (int, error)
}

// ActivityProbe reports whether the human operator is currently interacting
// with the agent.
type ActivityProbe interface {
	Active(context.Context) bool
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time
