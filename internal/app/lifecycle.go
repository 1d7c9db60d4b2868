package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// resultSummaryLimit bounds the stored result text.
const resultSummaryLimit = 2000

// LifecycleConfig tunes execution of admitted work items.
type LifecycleConfig struct {
	MaxTaskUSD  float64
	MaxDailyUSD float64
	Timeout     time.Duration
	WorkDir     string
	BranchScope string
}

// Lifecycle drives one admitted work item through isolated execution to a
// terminal state, updating the ledger on the way.
type Lifecycle struct {
	repo     Repository
	agent    AgentRunner
	ws       Workspace
	ledger   *Ledger
	selector *TierSelector
	clock    Clock
	log      *charmLog.Logger
	cfg      LifecycleConfig
}

// NewLifecycle constructs a Lifecycle.
func NewLifecycle(repo Repository, agent AgentRunner, ws Workspace, ledger *Ledger, selector *TierSelector, clock Clock, logger *charmLog.Logger, cfg LifecycleConfig) *Lifecycle {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.BranchScope == "" {
		cfg.BranchScope = "magpie"
	}
	return &Lifecycle{
		repo: repo, agent: agent, ws: ws, ledger: ledger,
		selector: selector, clock: clock, log: logger, cfg: cfg,
	}
}

// sanitizeBranch converts a work item title to a usable branch name.
func sanitizeBranch(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "-")
	var b strings.Builder
	for _, r := range safe {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '/' {
			b.WriteRune(r)
		}
	}
	safe = b.String()
	for strings.Contains(safe, "--") {
		safe = strings.ReplaceAll(safe, "--", "-")
	}
	safe = strings.Trim(safe, "-")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return safe
}

// buildPrompt synthesizes the agent instruction for a work item.
func buildPrompt(item domain.WorkItem) string {
	return fmt.Sprintf(
		"Task: %s\nDescription: %s\n\nPlease complete this task. Make all necessary code changes and commit your work with a descriptive message.",
		item.Title, item.Detail,
	)
}

// truncate bounds s to n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// taskBudget returns the spend ceiling for one execution: the per-task cap,
// never exceeding what remains of the daily limit.
func (l *Lifecycle) taskBudget(ctx context.Context) float64 {
	budget := l.cfg.MaxTaskUSD
	if spent, err := l.repo.DailyAutonomousCost(ctx, l.clock()); err == nil {
		budget = min(budget, max(l.cfg.MaxDailyUSD-spent, 0))
	}
	return budget
}

// acquireBranch creates the isolation branch when the work directory is a
// clean version-controlled workspace. Returns the prior branch to restore,
// or empty strings when no isolation was taken.
func (l *Lifecycle) acquireBranch(item domain.WorkItem, workDir string) (branch, prior string, err error) {
	if l.ws == nil || !l.ws.IsRepo(workDir) {
		return "", "", nil
	}
	dirty, err := l.ws.HasUncommittedChanges(workDir)
	if err != nil {
		return "", "", err
	}
	if dirty {
		return "", "", fmt.Errorf("workspace %s has uncommitted changes", workDir)
	}
	prior, err = l.ws.CurrentBranch(workDir)
	if err != nil {
		return "", "", err
	}
	branch = l.cfg.BranchScope + "/" + sanitizeBranch(item.Title)
	if exists, err := l.ws.BranchExists(workDir, branch); err == nil && exists {
		branch = branch + "-" + shortID(item.ID)
	}
	if err := l.ws.CreateBranch(workDir, branch); err != nil {
		return "", "", err
	}
	return branch, prior, nil
}

// shortID returns a compact suffix from an entity id.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Execute runs one admitted item to a terminal state. The pending->running
// transition is atomic; a second caller gets ErrNotPending. Execution
// failures land in the item's result summary, never in the returned error.
func (l *Lifecycle) Execute(ctx context.Context, item domain.WorkItem) error {
	tier := item.Tier
	if l.selector != nil {
		tier = l.selector.Select(ctx, item)
	}
	if tier == "" {
		tier = domain.TierSonnet
	}

	ok, err := l.repo.MarkRunning(ctx, item.ID, tier, l.clock())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPending
	}
	item, err = l.repo.GetWorkItem(ctx, item.ID)
	if err != nil {
		return err
	}
	l.log.Info("starting work item", "id", item.ID, "title", item.Title, "tier", tier)

	workDir := item.WorkDir
	if workDir == "" {
		workDir = l.cfg.WorkDir
	}

	branch, prior, branchErr := l.acquireBranch(item, workDir)
	if branchErr != nil {
		return l.finish(ctx, item, domain.StateFailed, "Error: "+branchErr.Error())
	}
	if branch != "" {
		item.WorkBranch = branch
		if err := l.repo.UpdateWorkItem(ctx, item); err != nil {
			l.log.Warn("could not persist work branch", "id", item.ID, "err", err)
		}
		l.log.Info("created isolation branch", "id", item.ID, "branch", branch)
		// The branch is kept for review in every outcome; only the
		// checkout is restored.
		defer func() {
			if err := l.ws.Checkout(workDir, prior); err != nil {
				l.log.Error("could not restore prior branch", "id", item.ID, "branch", prior, "err", err)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	result := l.agent.Run(runCtx, AgentRequest{
		Prompt:       buildPrompt(item),
		WorkDir:      workDir,
		Tier:         tier,
		MaxBudgetUSD: l.taskBudget(ctx),
		Timeout:      l.cfg.Timeout,
	})

	if _, err := l.ledger.Record(ctx, tier, result.InputTokens, result.OutputTokens, item.ID, true); err != nil {
		l.log.Warn("could not record usage", "id", item.ID, "err", err)
	}

	if result.Success {
		l.log.Info("work item completed", "id", item.ID,
			"cost_usd", result.CostUSD,
			"tokens", result.InputTokens+result.OutputTokens,
			"duration", result.Duration)
		return l.finish(ctx, item, domain.StateCompleted, truncate(result.Output, resultSummaryLimit))
	}
	l.log.Warn("work item failed", "id", item.ID, "err", result.ErrorText)
	return l.finish(ctx, item, domain.StateFailed, truncate("Error: "+result.ErrorText, resultSummaryLimit))
}

// finish moves item to a terminal state and persists the result summary.
func (l *Lifecycle) finish(ctx context.Context, item domain.WorkItem, state domain.WorkItemState, summary string) error {
	if err := item.Transition(state, l.clock()); err != nil {
		return err
	}
	item.ResultSummary = summary
	return l.repo.UpdateWorkItem(ctx, item)
}
