package app

import (
	"context"
	"math"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

const (
	// sessionGap is the silence that closes an activity session.
	sessionGap = 30 * time.Minute
	// idleProbability is the activity probability below which an hour
	// slot counts as idle.
	idleProbability = 0.3
	// patternSessionSample bounds how many recent sessions feed the grid.
	patternSessionSample = 500
)

// IdleWindow is one predicted contiguous span of operator absence.
type IdleWindow struct {
	Start       time.Time
	End         time.Time
	Probability float64
}

// Hours returns the window length in hours.
func (w IdleWindow) Hours() float64 {
	return w.End.Sub(w.Start).Hours()
}

// Patterns tracks operator activity sessions and aggregates them into a
// weekday-by-hour probability grid. The grid only informs tier selection
// and reporting; admission never consults it.
type Patterns struct {
	repo  Repository
	probe ActivityProbe
	idGen IDGenerator
	clock Clock
	log   *charmLog.Logger

	mu         sync.Mutex
	current    *domain.ActivitySession
	lastActive time.Time
}

// NewPatterns constructs a Patterns service.
func NewPatterns(repo Repository, probe ActivityProbe, idGen IDGenerator, clock Clock, logger *charmLog.Logger) *Patterns {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Patterns{repo: repo, probe: probe, idGen: idGen, clock: clock, log: logger}
}

// RecordActivity samples the activity probe and maintains the current
// session: activity extends or opens a session, sustained silence closes
// it. Safe to call from the daemon poll loop.
func (p *Patterns) RecordActivity(ctx context.Context) error {
	now := p.clock()
	active := p.probe.Active(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if active {
		p.lastActive = now
		if p.current == nil {
			session := domain.ActivitySession{
				ID:           p.idGen(),
				StartTime:    now,
				MessageCount: 1,
			}
			if err := p.repo.InsertActivitySession(ctx, session); err != nil {
				return err
			}
			p.current = &session
			return nil
		}
		p.current.MessageCount++
		return p.repo.UpdateActivitySession(ctx, *p.current)
	}

	if p.current != nil && now.Sub(p.lastActive) >= sessionGap {
		end := p.lastActive
		p.current.EndTime = &end
		if err := p.repo.UpdateActivitySession(ctx, *p.current); err != nil {
			return err
		}
		p.current = nil
	}
	return nil
}

// IdleMinutes reports minutes since the last observed activity. The
// second return is false when no activity has been observed yet.
func (p *Patterns) IdleMinutes() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastActive.IsZero() {
		return 0, false
	}
	return p.clock().Sub(p.lastActive).Minutes(), true
}

// weekdayIndex maps Go weekdays onto the stored grid where Monday is 0.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// UpdatePatterns rebuilds the weekday-by-hour grid from recent sessions.
// Each cell stores the fraction of observed dates on which that hour saw
// activity.
func (p *Patterns) UpdatePatterns(ctx context.Context) error {
	sessions, err := p.repo.RecentActivitySessions(ctx, patternSessionSample)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}

	type cell struct{ day, hour int }
	activeDates := map[cell]map[string]struct{}{}
	allDates := map[string]struct{}{}

	now := p.clock()
	for _, s := range sessions {
		end := now
		if s.EndTime != nil {
			end = *s.EndTime
		}
		for t := s.StartTime.Truncate(time.Hour); !t.After(end); t = t.Add(time.Hour) {
			c := cell{weekdayIndex(t), t.Hour()}
			date := t.Format("2006-01-02")
			if activeDates[c] == nil {
				activeDates[c] = map[string]struct{}{}
			}
			activeDates[c][date] = struct{}{}
			allDates[date] = struct{}{}
		}
	}

	observed := len(allDates)
	if observed == 0 {
		return nil
	}
	for day := 0; day < 7; day++ {
		for hour := 0; hour < 24; hour++ {
			c := cell{day, hour}
			pattern := domain.SchedulePattern{
				DayOfWeek:           day,
				Hour:                hour,
				ActivityProbability: float64(len(activeDates[c])) / float64(observed),
				SampleCount:         observed,
			}
			if err := p.repo.UpsertSchedulePattern(ctx, pattern); err != nil {
				return err
			}
		}
	}
	return nil
}

// probabilityGrid loads stored patterns into a lookup grid. Cells with no
// stored pattern default to active, so an empty grid never predicts idle.
func (p *Patterns) probabilityGrid(ctx context.Context) (map[[2]int]float64, error) {
	patterns, err := p.repo.ListSchedulePatterns(ctx)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	grid := make(map[[2]int]float64, len(patterns))
	for _, pat := range patterns {
		grid[[2]int{pat.DayOfWeek, pat.Hour}] = pat.ActivityProbability
	}
	return grid, nil
}

// PredictIdleWindows returns contiguous spans within the next hoursAhead
// hours whose activity probability stays below the idle threshold.
func (p *Patterns) PredictIdleWindows(ctx context.Context, hoursAhead int) ([]IdleWindow, error) {
	grid, err := p.probabilityGrid(ctx)
	if err != nil || grid == nil {
		return nil, err
	}

	start := p.clock().Truncate(time.Hour)
	var windows []IdleWindow
	var open *IdleWindow
	var probSum float64
	var probN int

	for i := 0; i < hoursAhead; i++ {
		slot := start.Add(time.Duration(i) * time.Hour)
		prob, ok := grid[[2]int{weekdayIndex(slot), slot.Hour()}]
		if !ok {
			prob = 1
		}
		if prob < idleProbability {
			if open == nil {
				open = &IdleWindow{Start: slot}
				probSum, probN = 0, 0
			}
			open.End = slot.Add(time.Hour)
			probSum += prob
			probN++
			continue
		}
		if open != nil {
			open.Probability = probSum / float64(probN)
			windows = append(windows, *open)
			open = nil
		}
	}
	if open != nil {
		open.Probability = probSum / float64(probN)
		windows = append(windows, *open)
	}
	return windows, nil
}

// LongestIdleWithin reports the longest predicted idle stretch, in hours,
// starting within the next hoursAhead hours. Zero when no pattern data
// exists yet.
func (p *Patterns) LongestIdleWithin(ctx context.Context, hoursAhead int) (float64, error) {
	windows, err := p.PredictIdleWindows(ctx, hoursAhead)
	if err != nil {
		return 0, err
	}
	longest := 0.0
	for _, w := range windows {
		if h := w.Hours(); h > longest {
			longest = h
		}
	}
	return longest, nil
}

// PredictNextReturn estimates when the operator is next likely active.
// Nil when no pattern data exists or no active slot falls within a week.
func (p *Patterns) PredictNextReturn(ctx context.Context) (*time.Time, error) {
	grid, err := p.probabilityGrid(ctx)
	if err != nil || grid == nil {
		return nil, err
	}
	start := p.clock().Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 7*24; i++ {
		slot := start.Add(time.Duration(i) * time.Hour)
		if grid[[2]int{weekdayIndex(slot), slot.Hour()}] >= idleProbability {
			return &slot, nil
		}
	}
	return nil, nil
}

// EstimateWastedQuota estimates how much of the remaining window quota
// will expire unused, assuming usage only happens during predicted active
// hours.
func (p *Patterns) EstimateWastedQuota(ctx context.Context, remaining int, hoursUntilReset float64) (int, error) {
	if remaining <= 0 || hoursUntilReset <= 0 {
		return 0, nil
	}
	grid, err := p.probabilityGrid(ctx)
	if err != nil || grid == nil {
		return 0, err
	}

	hours := int(math.Ceil(hoursUntilReset))
	start := p.clock().Truncate(time.Hour)
	idle := 0
	for i := 0; i < hours; i++ {
		slot := start.Add(time.Duration(i) * time.Hour)
		prob, ok := grid[[2]int{weekdayIndex(slot), slot.Hour()}]
		if ok && prob < idleProbability {
			idle++
		}
	}
	wasted := int(math.Round(float64(remaining) * float64(idle) / float64(hours)))
	if wasted > remaining {
		wasted = remaining
	}
	return wasted, nil
}
