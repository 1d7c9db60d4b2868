package app

import (
	"context"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// Candidate is one work item proposal emitted by an ingestion source.
type Candidate struct {
	Title     string
	Detail    string
	Origin    domain.WorkItemOrigin
	OriginRef string
	Tier      domain.Tier
}

// Source scans one location for work item candidates.
type Source interface {
	Scan(ctx context.Context, dir string) ([]Candidate, error)
}

// Scanner runs all configured sources, deduplicates against stored
// (origin, origin_ref) pairs, inserts new items, and rescores the queue.
type Scanner struct {
	repo        Repository
	prioritizer *Prioritizer
	sources     []Source
	idGen       IDGenerator
	clock       Clock
	log         *charmLog.Logger
}

// NewScanner constructs a Scanner.
func NewScanner(repo Repository, prioritizer *Prioritizer, idGen IDGenerator, clock Clock, logger *charmLog.Logger, sources ...Source) *Scanner {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Scanner{repo: repo, prioritizer: prioritizer, sources: sources, idGen: idGen, clock: clock, log: logger}
}

// Scan collects candidates from every source under dir and returns how
// many new items were inserted. Scanning the same source twice never
// inserts duplicate (origin, origin_ref) pairs.
func (s *Scanner) Scan(ctx context.Context, dir string) (int, error) {
	var found []Candidate
	for _, src := range s.sources {
		candidates, err := src.Scan(ctx, dir)
		if err != nil {
			s.log.Warn("source scan failed", "err", err)
			continue
		}
		found = append(found, candidates...)
	}

	inserted := 0
	seen := map[[2]string]struct{}{}
	for _, c := range found {
		key := [2]string{string(c.Origin), c.OriginRef}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		exists, err := s.repo.HasOriginRef(ctx, c.Origin, c.OriginRef)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		item, err := domain.NewWorkItem(domain.WorkItemInput{
			ID:        s.idGen(),
			Title:     c.Title,
			Detail:    c.Detail,
			Origin:    c.Origin,
			OriginRef: c.OriginRef,
			Tier:      c.Tier,
		}, s.clock())
		if err != nil {
			s.log.Warn("skipping invalid candidate", "title", c.Title, "err", err)
			continue
		}
		item.Priority = Score(item)
		if err := s.repo.CreateWorkItem(ctx, item); err != nil {
			return inserted, err
		}
		inserted++
	}

	if err := s.prioritizer.ReprioritizeAll(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}
