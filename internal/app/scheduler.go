package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// SchedulerConfig tunes admission control.
type SchedulerConfig struct {
	MaxDailyUSD      float64
	EstimatedTaskUSD float64
	WindowHours      int
	MaxParallel      int
}

// Decision is one admission verdict with its human-readable reason.
type Decision struct {
	Allowed bool
	Reason  string
}

// Scheduler combines the quota estimator, the weekly budget controller,
// the pending queue, and the running count into a single admit/deny call.
type Scheduler struct {
	repo      Repository
	estimator *Estimator
	weekly    *WeeklyBudget
	clock     Clock
	cfg       SchedulerConfig
}

// NewScheduler constructs a Scheduler.
func NewScheduler(repo Repository, estimator *Estimator, weekly *WeeklyBudget, clock Clock, cfg SchedulerConfig) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 5
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 4
	}
	return &Scheduler{repo: repo, estimator: estimator, weekly: weekly, clock: clock, cfg: cfg}
}

// RollingParallel maps window quota and time remaining to a concurrency
// level. The geometric mean makes either factor collapsing to zero
// collapse concurrency to the sequential floor.
func RollingParallel(remainingPct, hoursUntilReset float64, windowHours int, cap int) int {
	if cap < 1 {
		cap = 1
	}
	quotaRatio := min(max(remainingPct/100, 0), 1)
	timeRatio := min(max(hoursUntilReset/float64(windowHours), 0), 1)
	score := math.Sqrt(quotaRatio * timeRatio)

	var n int
	switch {
	case score >= 0.75:
		n = 4
	case score >= 0.50:
		n = 3
	case score >= 0.25:
		n = 2
	default:
		n = 1
	}
	return min(n, cap)
}

// Decide evaluates the four admission checks in order, returning the first
// failure's reason, or an allow verdict summarizing queue depth and
// concurrency.
func (s *Scheduler) Decide(ctx context.Context) (Decision, error) {
	// Check 1: daily spend cap.
	spent, err := s.repo.DailyAutonomousCost(ctx, s.clock())
	if err != nil {
		return Decision{}, err
	}
	if spent >= s.cfg.MaxDailyUSD {
		return Decision{Reason: fmt.Sprintf(
			"daily autonomous limit reached: $%.2f / $%.2f", spent, s.cfg.MaxDailyUSD)}, nil
	}
	if remaining := s.cfg.MaxDailyUSD - spent; s.cfg.EstimatedTaskUSD > remaining {
		return Decision{Reason: fmt.Sprintf(
			"estimated cost $%.2f exceeds remaining daily limit $%.2f",
			s.cfg.EstimatedTaskUSD, remaining)}, nil
	}

	// Check 2: rolling-window quota with the safety slice reserved.
	est, err := s.estimator.Remaining(ctx, s.estimator.DefaultTier())
	if err != nil {
		return Decision{}, err
	}
	if est.AvailableForAutonomous <= 0 {
		return Decision{Reason: "quota exhausted (safety margin enforced)"}, nil
	}

	// Check 3: pending work exists.
	pending, err := s.repo.CountByState(ctx, domain.StatePending)
	if err != nil {
		return Decision{}, err
	}
	if pending == 0 {
		return Decision{Reason: "no pending work items"}, nil
	}

	// Check 4: concurrency below both the rolling-window level and the
	// weekly budget ceiling.
	running, err := s.repo.CountByState(ctx, domain.StateRunning)
	if err != nil {
		return Decision{}, err
	}
	hoursLeft := max(est.WindowEnd.Sub(s.clock()).Hours(), 0)
	rolling := RollingParallel(est.RemainingPct, hoursLeft, s.cfg.WindowHours, s.cfg.MaxParallel)
	limit := min(rolling, s.weekly.Ceiling())
	if running >= limit {
		return Decision{Reason: fmt.Sprintf(
			"at concurrency limit: %d running / %d max", running, limit)}, nil
	}

	return Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("%d pending, %d/%d running", pending, running, limit),
	}, nil
}
