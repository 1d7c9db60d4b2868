package app

import (
	"context"
	"regexp"

	"github.com/hylla/magpie/internal/domain"
)

// originWeight is the base score contribution per ingestion origin.
// Manual entries score highest, generated maintenance lowest.
var originWeight = map[domain.WorkItemOrigin]float64{
	domain.OriginManual:      40.0,
	domain.OriginQueueFile:   35.0,
	domain.OriginIssue:       30.0,
	domain.OriginCodeComment: 20.0,
	domain.OriginMaintenance: 10.0,
}

// keywordRule is one additive bonus triggered by a title+detail match.
type keywordRule struct {
	pattern *regexp.Regexp
	bonus   float64
}

var keywordRules = []keywordRule{
	{regexp.MustCompile(`(?i)\b(security|vulnerability|vuln|cve)\b`), 30.0},
	{regexp.MustCompile(`(?i)\b(bug|fix|crash|error|broken)\b`), 25.0},
	{regexp.MustCompile(`(?i)\b(perf|performance|slow)\b`), 15.0},
	{regexp.MustCompile(`(?i)\b(refactor|cleanup|clean[- ]?up)\b`), 10.0},
	{regexp.MustCompile(`(?i)\b(test|tests|testing)\b`), 8.0},
	{regexp.MustCompile(`(?i)\b(doc|docs|documentation|readme)\b`), 5.0},
	{regexp.MustCompile(`\bFIXME\b`), 20.0},
	{regexp.MustCompile(`\bHACK\b`), 15.0},
	{regexp.MustCompile(`\bXXX\b`), 15.0},
}

const (
	// maxSimplicityBonus rewards short items; they are better candidates
	// for unattended execution.
	maxSimplicityBonus      = 15.0
	simplicityCharThreshold = 200
)

// Score returns a priority in [0, 100] for item. This is a static
// heuristic, not an optimizer; ties are expected.
func Score(item domain.WorkItem) float64 {
	score, ok := originWeight[item.Origin]
	if !ok {
		score = 10.0
	}

	text := item.Title + " " + item.Detail
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(text) {
			score += rule.bonus
		}
	}

	length := len(item.Title) + len(item.Detail)
	if length < simplicityCharThreshold {
		ratio := 1.0 - float64(length)/simplicityCharThreshold
		score += maxSimplicityBonus * ratio
	}

	return min(max(score, 0), 100)
}

// Prioritizer scores and orders pending work items.
type Prioritizer struct {
	repo Repository
}

// NewPrioritizer constructs a Prioritizer.
func NewPrioritizer(repo Repository) *Prioritizer {
	return &Prioritizer{repo: repo}
}

// ReprioritizeAll recomputes and persists scores for all pending items.
// Running items are never rescored.
func (p *Prioritizer) ReprioritizeAll(ctx context.Context) error {
	pending, err := p.repo.WorkItemsByState(ctx, domain.StatePending)
	if err != nil {
		return err
	}
	for _, item := range pending {
		item.Priority = Score(item)
		if err := p.repo.UpdateWorkItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Head returns the highest-scoring pending item, ties broken by earlier
// creation time. Returns ErrNotFound when the queue is empty.
func (p *Prioritizer) Head(ctx context.Context) (domain.WorkItem, error) {
	pending, err := p.repo.WorkItemsByState(ctx, domain.StatePending)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if len(pending) == 0 {
		return domain.WorkItem{}, ErrNotFound
	}
	// WorkItemsByState orders by priority desc, created_at asc.
	return pending[0], nil
}
