package app

import (
	"context"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// WeeklyConfig tunes the long-horizon budget controller.
type WeeklyConfig struct {
	TargetPct      float64
	Cap            int
	InitialCeiling int
	ResetDay       int // 0=Monday, UTC
	ResetHour      int // UTC
}

// WeeklyBudget samples long-horizon usage and solves for the maximum safe
// concurrency that lands at the target ceiling by the next weekly reset.
// All sampling state is owned by the instance so independently configured
// schedulers do not interfere.
type WeeklyBudget struct {
	repo   Repository
	source QuotaSource
	clock  Clock
	cfg    WeeklyConfig
	log    *charmLog.Logger

	mu          sync.Mutex
	lastPct     *float64
	lastAt      time.Time
	lastRunning int
	ceiling     int
}

// NewWeeklyBudget constructs a WeeklyBudget with a conservative initial
// ceiling that holds until two consecutive samples produce a usable rate.
func NewWeeklyBudget(repo Repository, source QuotaSource, clock Clock, logger *charmLog.Logger, cfg WeeklyConfig) *WeeklyBudget {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	if cfg.TargetPct <= 0 {
		cfg.TargetPct = 90
	}
	if cfg.Cap < 1 {
		cfg.Cap = 4
	}
	if cfg.InitialCeiling < 1 || cfg.InitialCeiling > cfg.Cap {
		cfg.InitialCeiling = min(2, cfg.Cap)
	}
	return &WeeklyBudget{
		repo:        repo,
		source:      source,
		clock:       clock,
		cfg:         cfg,
		log:         logger,
		lastRunning: 1,
		ceiling:     cfg.InitialCeiling,
	}
}

// Ceiling returns the most recently computed parallelism ceiling. It is a
// cheap non-blocking read.
func (w *WeeklyBudget) Ceiling() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ceiling
}

// HoursUntilReset returns hours until the weekly quota window resets.
func (w *WeeklyBudget) HoursUntilReset(now time.Time) float64 {
	now = now.UTC()
	// time.Weekday is Sunday-based; config uses 0=Monday.
	weekday := (int(now.Weekday()) + 6) % 7
	daysAhead := w.cfg.ResetDay - weekday
	if daysAhead < 0 {
		daysAhead += 7
	} else if daysAhead == 0 && now.Hour() >= w.cfg.ResetHour {
		daysAhead = 7
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), w.cfg.ResetHour, 0, 0, 0, time.UTC).
		AddDate(0, 0, daysAhead)
	return max(next.Sub(now).Hours(), 0)
}

// ComputeWeeklyCeiling solves for the largest n such that running at n
// continuously until the reset keeps projected usage at or below targetPct.
// The rate is normalized to a per-task value by nRunning.
func ComputeWeeklyCeiling(weekPct, ratePctPerHour, hoursUntilReset float64, nRunning int, targetPct float64, cap int) int {
	remaining := targetPct - weekPct
	if remaining <= 0 {
		return 1
	}
	if ratePctPerHour <= 0 || hoursUntilReset <= 0 {
		return cap
	}
	ratePerTask := ratePctPerHour / float64(max(nRunning, 1))
	n := int(remaining / (ratePerTask * hoursUntilReset))
	return min(max(n, 1), cap)
}

// Update fetches the current long-horizon usage and recomputes the ceiling.
// Any fetch failure leaves the previously computed ceiling unchanged.
func (w *WeeklyBudget) Update(ctx context.Context) int {
	snapshot, err := w.source.Fetch(ctx)
	if err != nil {
		w.log.Debug("weekly budget: usage snapshot unavailable", "err", err)
		return w.Ceiling()
	}
	if snapshot.WeekPct == nil {
		return w.Ceiling()
	}
	weekPct := *snapshot.WeekPct
	now := w.clock().UTC()
	hoursLeft := w.HoursUntilReset(now)

	w.mu.Lock()
	defer w.mu.Unlock()

	var ratePerHour float64
	haveRate := false
	nRunningForRate := w.lastRunning
	if w.lastPct != nil {
		deltaPct := weekPct - *w.lastPct
		deltaHours := now.Sub(w.lastAt).Hours()
		if deltaHours > 0 && deltaPct > 0 {
			ratePerHour = deltaPct / deltaHours
			haveRate = true
		}
	}

	// Snapshot the running count for the next cycle's normalization.
	if running, err := w.repo.CountByState(ctx, domain.StateRunning); err == nil {
		w.lastRunning = max(running, 1)
	} else {
		w.lastRunning = 1
	}
	w.lastPct = &weekPct
	w.lastAt = now

	if !haveRate {
		w.ceiling = w.cfg.InitialCeiling
	} else {
		w.ceiling = ComputeWeeklyCeiling(weekPct, ratePerHour, hoursLeft, nRunningForRate, w.cfg.TargetPct, w.cfg.Cap)
	}

	w.log.Info("weekly budget updated",
		"week_pct", weekPct,
		"hours_until_reset", hoursLeft,
		"rate_pct_per_hour", ratePerHour,
		"normalized_over", nRunningForRate,
		"ceiling", w.ceiling,
		"target_pct", w.cfg.TargetPct,
	)
	return w.ceiling
}
