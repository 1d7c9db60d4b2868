package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

func TestScoreOriginWeights(t *testing.T) {
	base := domain.WorkItemInput{ID: "w", Title: "implement the widget frobnicator subsystem"}
	origins := []struct {
		origin domain.WorkItemOrigin
		more   domain.WorkItemOrigin
	}{
		{domain.OriginQueueFile, domain.OriginManual},
		{domain.OriginIssue, domain.OriginQueueFile},
		{domain.OriginCodeComment, domain.OriginIssue},
		{domain.OriginMaintenance, domain.OriginCodeComment},
	}
	for _, tt := range origins {
		lo := base
		lo.Origin = tt.origin
		hi := base
		hi.Origin = tt.more
		lower, _ := domain.NewWorkItem(lo, testStart)
		higher, _ := domain.NewWorkItem(hi, testStart)
		if Score(lower) >= Score(higher) {
			t.Errorf("score(%s) = %v, not below score(%s) = %v",
				tt.origin, Score(lower), tt.more, Score(higher))
		}
	}
}

func TestScoreKeywordBonuses(t *testing.T) {
	plain, _ := domain.NewWorkItem(domain.WorkItemInput{
		ID: "a", Title: "rearrange the furniture layout please", Origin: domain.OriginManual,
	}, testStart)
	urgent, _ := domain.NewWorkItem(domain.WorkItemInput{
		ID: "b", Title: "fix security vulnerability in login", Origin: domain.OriginManual,
	}, testStart)
	if Score(urgent) <= Score(plain) {
		t.Errorf("security fix scored %v, plain item %v", Score(urgent), Score(plain))
	}
}

func TestScoreBounds(t *testing.T) {
	// Stack every bonus; the score must stay within [0, 100].
	loaded, _ := domain.NewWorkItem(domain.WorkItemInput{
		ID:     "x",
		Title:  "FIXME fix security vulnerability bug",
		Detail: "perf refactor test doc HACK XXX",
		Origin: domain.OriginManual,
	}, testStart)
	if got := Score(loaded); got != 100 {
		t.Errorf("loaded score = %v, want clamped to 100", got)
	}
}

func TestScoreSimplicityBonus(t *testing.T) {
	short, _ := domain.NewWorkItem(domain.WorkItemInput{
		ID: "s", Title: "tiny chore", Origin: domain.OriginManual,
	}, testStart)
	long := short
	long.Detail = strings.Repeat("background context ", 20)
	if Score(short) <= Score(long) {
		t.Errorf("short item scored %v, long item %v", Score(short), Score(long))
	}
}

func TestPrioritizerHead(t *testing.T) {
	repo := newFakeRepo()
	p := NewPrioritizer(repo)

	addItem(t, repo, "low", domain.StatePending, 10)
	addItem(t, repo, "high", domain.StatePending, 90)
	addItem(t, repo, "busy", domain.StateRunning, 99)

	head, err := p.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.ID != "high" {
		t.Errorf("head = %s, want high", head.ID)
	}
}

func TestPrioritizerHeadTieBreaksByAge(t *testing.T) {
	repo := newFakeRepo()
	p := NewPrioritizer(repo)

	older, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "older", Title: "t", Priority: 50}, testStart)
	newer, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "newer", Title: "t", Priority: 50}, testStart.Add(time.Minute))
	_ = repo.CreateWorkItem(context.Background(), newer)
	_ = repo.CreateWorkItem(context.Background(), older)

	head, err := p.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != "older" {
		t.Errorf("head = %s, want older", head.ID)
	}
}

func TestPrioritizerHeadEmpty(t *testing.T) {
	p := NewPrioritizer(newFakeRepo())
	if _, err := p.Head(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Head on empty queue = %v, want ErrNotFound", err)
	}
}

func TestReprioritizeAllSkipsRunning(t *testing.T) {
	repo := newFakeRepo()
	p := NewPrioritizer(repo)

	pending := addItem(t, repo, "p1", domain.StatePending, 1)
	running := addItem(t, repo, "r1", domain.StateRunning, 1)

	if err := p.ReprioritizeAll(context.Background()); err != nil {
		t.Fatalf("ReprioritizeAll: %v", err)
	}

	got, _ := repo.GetWorkItem(context.Background(), pending.ID)
	if got.Priority == 1 {
		t.Error("pending item was not rescored")
	}
	got, _ = repo.GetWorkItem(context.Background(), running.ID)
	if got.Priority != 1 {
		t.Errorf("running item was rescored to %v", got.Priority)
	}
}
