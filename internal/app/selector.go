package app

import (
	"context"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// Difficulty classifies how demanding a work item looks.
type Difficulty string

// Difficulty values.
const (
	DifficultySimple  Difficulty = "simple"
	DifficultyMedium  Difficulty = "medium"
	DifficultyComplex Difficulty = "complex"
)

// difficultyTier maps assessed difficulty to a resource tier.
var difficultyTier = map[Difficulty]domain.Tier{
	DifficultySimple:  domain.TierHaiku,
	DifficultyMedium:  domain.TierSonnet,
	DifficultyComplex: domain.TierOpus,
}

var complexKeywords = []string{
	"security", "vulnerability", "architecture", "migration",
	"performance", "critical", "concurrent", "race condition",
	"refactor", "redesign", "optimize", "scalab",
}

var simpleKeywords = []string{
	"docs", "documentation", "lint", "format", "typo",
	"clean", "todo", "comment", "rename", "update docs",
	"readme", "changelog", "license",
}

// AssessDifficulty classifies a work item from its text, origin, and
// detail length.
func AssessDifficulty(item domain.WorkItem) Difficulty {
	text := strings.ToLower(item.Title + " " + item.Detail)

	complexHits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			complexHits++
		}
	}
	simpleHits := 0
	for _, kw := range simpleKeywords {
		if strings.Contains(text, kw) {
			simpleHits++
		}
	}

	// Generated maintenance items lean simple.
	if item.Origin == domain.OriginMaintenance {
		simpleHits++
	}

	switch n := len(item.Detail); {
	case n > 500:
		complexHits++
	case n < 100:
		simpleHits++
	}

	switch {
	case complexHits > simpleHits:
		return DifficultyComplex
	case simpleHits > complexHits:
		return DifficultySimple
	default:
		return DifficultyMedium
	}
}

// SelectorConfig tunes tier selection.
type SelectorConfig struct {
	AutoSelect  bool
	DefaultTier domain.Tier
}

// IdleForecaster predicts upcoming idle windows; optional.
type IdleForecaster interface {
	LongestIdleWithin(ctx context.Context, hoursAhead int) (float64, error)
}

// TierSelector maps a work item to a resource tier, raising the tier when
// near-term quota would otherwise go unused and lowering it when the
// chosen tier is exhausted.
type TierSelector struct {
	estimator *Estimator
	forecast  IdleForecaster
	clock     Clock
	cfg       SelectorConfig
	log       *charmLog.Logger
}

// NewTierSelector constructs a TierSelector. forecast may be nil.
func NewTierSelector(estimator *Estimator, forecast IdleForecaster, clock Clock, logger *charmLog.Logger, cfg SelectorConfig) *TierSelector {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = domain.TierSonnet
	}
	return &TierSelector{estimator: estimator, forecast: forecast, clock: clock, cfg: cfg, log: logger}
}

// shouldUpgrade reports whether transient quota surplus justifies raising
// the tier: a window ending soon with surplus, or a long forecast idle
// period with a larger surplus. Unused near-term capacity is better spent
// generously than wasted.
func (s *TierSelector) shouldUpgrade(ctx context.Context) (bool, string) {
	est, err := s.estimator.Remaining(ctx, s.cfg.DefaultTier)
	if err != nil {
		return false, ""
	}
	hoursLeft := est.WindowEnd.Sub(s.clock()).Hours()

	if hoursLeft < 1.5 && est.RemainingPct > 30 {
		return true, "window ending soon with quota surplus"
	}
	if est.RemainingPct > 40 && s.forecast != nil {
		if longest, err := s.forecast.LongestIdleWithin(ctx, 8); err == nil && longest >= 6 {
			return true, "long idle period forecast with quota surplus"
		}
	}
	return false, ""
}

// hasQuota reports whether tier has capacity available for autonomous use.
func (s *TierSelector) hasQuota(ctx context.Context, tier domain.Tier) bool {
	est, err := s.estimator.Remaining(ctx, tier)
	if err != nil {
		return false
	}
	return est.AvailableForAutonomous > 0
}

// Select picks the resource tier for item.
func (s *TierSelector) Select(ctx context.Context, item domain.WorkItem) domain.Tier {
	if !s.cfg.AutoSelect {
		return s.cfg.DefaultTier
	}
	if item.Tier != "" && domain.IsValidTier(item.Tier) {
		return item.Tier
	}

	difficulty := AssessDifficulty(item)
	tier := difficultyTier[difficulty]

	if upgrade, reason := s.shouldUpgrade(ctx); upgrade {
		if next := tier.Upgrade(); next != tier {
			s.log.Info("upgrading tier", "from", tier, "to", next, "reason", reason)
			tier = next
		}
	}

	// Fall back one step, then one more, if the chosen tier is exhausted.
	if !s.hasQuota(ctx, tier) {
		next := tier.Downgrade()
		s.log.Info("downgrading tier", "from", tier, "to", next, "reason", "quota exhausted")
		tier = next
		if !s.hasQuota(ctx, tier) {
			tier = tier.Downgrade()
		}
	}
	return tier
}
