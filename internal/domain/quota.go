package domain

import "time"

// QuotaWindow is one rolling accounting period. At most one window is
// current at a time; a new one is materialized lazily when none exists.
type QuotaWindow struct {
	ID             string
	Start          time.Time
	Hours          int
	EstimatedLimit int
}

// End returns the moment the window resets.
func (w QuotaWindow) End() time.Time {
	return w.Start.Add(time.Duration(w.Hours) * time.Hour)
}

// CorrectionScope identifies which accounting period a correction targets.
type CorrectionScope string

// CorrectionScope values.
const (
	ScopeSession CorrectionScope = "session"
	ScopeWeek    CorrectionScope = "week"
)

// IsValidScope reports whether s is a known correction scope.
func IsValidScope(s CorrectionScope) bool {
	return s == ScopeSession || s == ScopeWeek
}

// QuotaCorrection is a point-in-time external truth injection. Its percent
// used supersedes ledger-derived inference for usage before CorrectedAt;
// usage recorded after CorrectedAt is added back on top of it.
type QuotaCorrection struct {
	ID          string
	WindowID    string
	Tier        Tier
	Scope       CorrectionScope
	UsedPct     float64
	CorrectedAt time.Time
}

// NewQuotaCorrection validates a correction before it is stored.
func NewQuotaCorrection(windowID string, tier Tier, scope CorrectionScope, usedPct float64, now time.Time) (QuotaCorrection, error) {
	if windowID == "" {
		return QuotaCorrection{}, ErrInvalidID
	}
	if !IsValidTier(tier) {
		return QuotaCorrection{}, ErrInvalidTier
	}
	if !IsValidScope(scope) {
		return QuotaCorrection{}, ErrInvalidScope
	}
	if usedPct < 0 || usedPct > 100 {
		return QuotaCorrection{}, ErrInvalidPercent
	}
	return QuotaCorrection{
		WindowID:    windowID,
		Tier:        tier,
		Scope:       scope,
		UsedPct:     usedPct,
		CorrectedAt: now.UTC(),
	}, nil
}
