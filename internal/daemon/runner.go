// Package daemon runs the background control loop that admits and
// executes queued work items while the operator is away.
package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/app"
)

// Config tunes the poll loop.
type Config struct {
	PollInterval   time.Duration
	WeeklyInterval time.Duration
}

// Runner is the daemon control loop. Each tick records operator activity,
// periodically refreshes the weekly budget and quota corrections, and when
// the scheduler admits, dispatches the highest-priority pending item to a
// worker goroutine.
type Runner struct {
	scheduler   *app.Scheduler
	prioritizer *app.Prioritizer
	lifecycle   *app.Lifecycle
	patterns    *app.Patterns
	weekly      *app.WeeklyBudget
	corrections *app.Corrections
	clock       app.Clock
	log         *charmLog.Logger
	cfg         Config

	wg         sync.WaitGroup
	lastWeekly time.Time
}

// NewRunner constructs a Runner.
func NewRunner(
	scheduler *app.Scheduler,
	prioritizer *app.Prioritizer,
	lifecycle *app.Lifecycle,
	patterns *app.Patterns,
	weekly *app.WeeklyBudget,
	corrections *app.Corrections,
	clock app.Clock,
	logger *charmLog.Logger,
	cfg Config,
) *Runner {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.WeeklyInterval <= 0 {
		cfg.WeeklyInterval = 30 * time.Minute
	}
	return &Runner{
		scheduler:   scheduler,
		prioritizer: prioritizer,
		lifecycle:   lifecycle,
		patterns:    patterns,
		weekly:      weekly,
		corrections: corrections,
		clock:       clock,
		log:         logger,
		cfg:         cfg,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight work items
// to reach a terminal state before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("daemon started", "pid", os.Getpid(), "poll_interval", r.cfg.PollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("daemon shutting down")
			r.wg.Wait()
			return nil
		case <-timer.C:
		}
		r.Tick(ctx)
		timer.Reset(r.cfg.PollInterval)
	}
}

// Tick runs one poll cycle.
func (r *Runner) Tick(ctx context.Context) {
	if err := r.patterns.RecordActivity(ctx); err != nil {
		r.log.Warn("could not record activity", "err", err)
	}
	r.maintain(ctx)

	decision, err := r.scheduler.Decide(ctx)
	if err != nil {
		r.log.Error("admission check failed", "err", err)
		return
	}
	if !decision.Allowed {
		r.log.Debug("holding", "reason", decision.Reason)
		return
	}

	item, err := r.prioritizer.Head(ctx)
	if err != nil {
		if !errors.Is(err, app.ErrNotFound) {
			r.log.Error("could not pick next work item", "err", err)
		}
		return
	}

	r.log.Info("admitting work item", "id", item.ID, "title", item.Title, "reason", decision.Reason)
	r.wg.Add(1)
	// Shutdown must not kill in-flight work; each execution runs to its
	// own timeout and Run waits for the group.
	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		if err := r.lifecycle.Execute(execCtx, item); err != nil {
			if errors.Is(err, app.ErrNotPending) {
				r.log.Debug("work item claimed elsewhere", "id", item.ID)
				return
			}
			r.log.Error("work item execution failed", "id", item.ID, "err", err)
		}
	}()
}

// maintain refreshes the weekly ceiling, quota corrections, and schedule
// patterns at the configured cadence.
func (r *Runner) maintain(ctx context.Context) {
	now := r.clock()
	if !r.lastWeekly.IsZero() && now.Sub(r.lastWeekly) < r.cfg.WeeklyInterval {
		return
	}
	r.lastWeekly = now

	ceiling := r.weekly.Update(ctx)
	r.log.Debug("weekly budget refreshed", "ceiling", ceiling)
	if r.corrections.AutoSync(ctx) {
		r.log.Debug("quota corrections synced")
	}
	if err := r.patterns.UpdatePatterns(ctx); err != nil {
		r.log.Warn("could not update schedule patterns", "err", err)
	}
}
