package app

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// EstimatorConfig tunes rolling-window quota accounting.
type EstimatorConfig struct {
	WindowHours  int
	DefaultLimit int
	TierLimits   map[domain.Tier]int
	SafetyMargin float64
	DefaultTier  domain.Tier
}

// Estimate is the quota picture for one tier in the current window.
type Estimate struct {
	WindowStart            time.Time
	WindowEnd              time.Time
	Tier                   domain.Tier
	Limit                  int
	Used                   int
	Remaining              int
	RemainingPct           float64
	SafetyReserved         int
	AvailableForAutonomous int
}

// Estimator converts ledger history plus optional corrections into
// remaining capacity per tier within the rolling window.
type Estimator struct {
	repo  Repository
	idGen IDGenerator
	clock Clock
	cfg   EstimatorConfig
}

// NewEstimator constructs an Estimator.
func NewEstimator(repo Repository, idGen IDGenerator, clock Clock, cfg EstimatorConfig) *Estimator {
	if clock == nil {
		clock = time.Now
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 5
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 225
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = domain.TierSonnet
	}
	return &Estimator{repo: repo, idGen: idGen, clock: clock, cfg: cfg}
}

// DefaultTier returns the tier used when callers do not name one.
func (e *Estimator) DefaultTier() domain.Tier {
	return e.cfg.DefaultTier
}

// TierLimit resolves the per-window limit for a tier. Resolution order:
// explicit per-tier override, then the legacy scalar fallback.
func (e *Estimator) TierLimit(tier domain.Tier) int {
	if limit, ok := e.cfg.TierLimits[tier]; ok && limit > 0 {
		return limit
	}
	return e.cfg.DefaultLimit
}

// EnsureWindow returns the current quota window, creating one anchored to
// now if none exists.
func (e *Estimator) EnsureWindow(ctx context.Context) (domain.QuotaWindow, error) {
	window, err := e.repo.CurrentQuotaWindow(ctx)
	if err == nil {
		return window, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.QuotaWindow{}, err
	}
	window = domain.QuotaWindow{
		ID:             e.idGen(),
		Start:          e.clock().UTC(),
		Hours:          e.cfg.WindowHours,
		EstimatedLimit: e.cfg.DefaultLimit,
	}
	if err := e.repo.InsertQuotaWindow(ctx, window); err != nil {
		return domain.QuotaWindow{}, err
	}
	return window, nil
}

// Remaining estimates remaining capacity for tier in the current window.
// Correction lookups degrade silently to ledger-derived counts; quota
// estimation never brings down the scheduler over stale external data.
func (e *Estimator) Remaining(ctx context.Context, tier domain.Tier) (Estimate, error) {
	if tier == "" {
		tier = e.cfg.DefaultTier
	}
	window, err := e.EnsureWindow(ctx)
	if err != nil {
		return Estimate{}, err
	}
	limit := e.TierLimit(tier)

	var used, remaining int
	correction, corrErr := e.repo.LatestCorrection(ctx, window.ID, tier, domain.ScopeSession)
	if corrErr == nil {
		// Correction percent is ground truth at its timestamp; ledger usage
		// recorded after it is added back on top.
		atCorrection := int(math.Round((1 - correction.UsedPct/100) * float64(limit)))
		after, err := e.repo.TierUsageCount(ctx, tier, correction.CorrectedAt)
		if err != nil {
			return Estimate{}, err
		}
		remaining = max(atCorrection-after, 0)
		used = limit - remaining
	} else {
		count, err := e.repo.TierUsageCount(ctx, tier, window.Start)
		if err != nil {
			return Estimate{}, err
		}
		used = count
		remaining = max(limit-used, 0)
	}

	remainingPct := 0.0
	if limit > 0 {
		remainingPct = float64(remaining) / float64(limit) * 100
	}
	reserved := int(float64(limit) * e.cfg.SafetyMargin)

	return Estimate{
		WindowStart:            window.Start,
		WindowEnd:              window.End(),
		Tier:                   tier,
		Limit:                  limit,
		Used:                   used,
		Remaining:              remaining,
		RemainingPct:           remainingPct,
		SafetyReserved:         reserved,
		AvailableForAutonomous: max(remaining-reserved, 0),
	}, nil
}

// HasBudget reports whether a task with the given estimated cost fits both
// the tier quota and the daily autonomous spending cap.
func (e *Estimator) HasBudget(ctx context.Context, estimatedCost, maxDailyUSD float64, tier domain.Tier) (bool, error) {
	est, err := e.Remaining(ctx, tier)
	if err != nil {
		return false, err
	}
	if est.AvailableForAutonomous <= 0 {
		return false, nil
	}
	spent, err := e.repo.DailyAutonomousCost(ctx, e.clock())
	if err != nil {
		return false, err
	}
	return spent+estimatedCost <= maxDailyUSD, nil
}
