package app

import (
	"context"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// Corrections applies externally sourced ground-truth usage percentages on
// top of ledger-derived estimates.
type Corrections struct {
	repo      Repository
	estimator *Estimator
	source    QuotaSource
	idGen     IDGenerator
	clock     Clock
	log       *charmLog.Logger
}

// NewCorrections constructs a Corrections service.
func NewCorrections(repo Repository, estimator *Estimator, source QuotaSource, idGen IDGenerator, clock Clock, logger *charmLog.Logger) *Corrections {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Corrections{repo: repo, estimator: estimator, source: source, idGen: idGen, clock: clock, log: logger}
}

// Apply records one percent-used correction for (current window, tier,
// scope). The most recent correction supersedes earlier ones and all
// ledger-derived inference before its timestamp.
func (c *Corrections) Apply(ctx context.Context, tier domain.Tier, scope domain.CorrectionScope, usedPct float64) (domain.QuotaCorrection, error) {
	window, err := c.estimator.EnsureWindow(ctx)
	if err != nil {
		return domain.QuotaCorrection{}, err
	}
	correction, err := domain.NewQuotaCorrection(window.ID, tier, scope, usedPct, c.clock())
	if err != nil {
		return domain.QuotaCorrection{}, err
	}
	correction.ID = c.idGen()
	if err := c.repo.InsertCorrection(ctx, correction); err != nil {
		return domain.QuotaCorrection{}, err
	}
	return correction, nil
}

// AutoSync fetches live usage from the quota source and applies it as
// corrections. Failures are non-fatal; the scheduler continues with its
// last known estimates.
func (c *Corrections) AutoSync(ctx context.Context) bool {
	if c.source == nil {
		return false
	}
	snapshot, err := c.source.Fetch(ctx)
	if err != nil {
		c.log.Debug("quota sync failed", "err", err)
		return false
	}
	tier := c.estimator.DefaultTier()
	if _, err := c.Apply(ctx, tier, domain.ScopeSession, snapshot.SessionPct); err != nil {
		c.log.Warn("could not apply session correction", "err", err)
		return false
	}
	if snapshot.WeekPct != nil {
		if _, err := c.Apply(ctx, tier, domain.ScopeWeek, *snapshot.WeekPct); err != nil {
			c.log.Warn("could not apply weekly correction", "err", err)
		}
	}
	return true
}
