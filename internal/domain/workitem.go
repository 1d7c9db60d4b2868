package domain

import (
	"strings"
	"time"
)

// WorkItemState identifies one lifecycle state of a work item.
type WorkItemState string

// WorkItemState values.
const (
	StatePending   WorkItemState = "pending"
	StateRunning   WorkItemState = "running"
	StateCompleted WorkItemState = "completed"
	StateFailed    WorkItemState = "failed"
	StateCancelled WorkItemState = "cancelled"
)

// validStates stores all supported state values.
var validStates = []WorkItemState{
	StatePending,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// allowedTransitions encodes the monotonic lifecycle. Nothing ever returns
// to pending, and the only move out of a terminal state is completed to
// cancelled when a reviewer rejects finished work.
var allowedTransitions = map[WorkItemState][]WorkItemState{
	StatePending:   {StateRunning},
	StateRunning:   {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {StateCancelled},
}

// IsValidState reports whether s is a known lifecycle state.
func IsValidState(s WorkItemState) bool {
	for _, v := range validStates {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a terminal lifecycle state.
func (s WorkItemState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s WorkItemState) CanTransition(next WorkItemState) bool {
	for _, v := range allowedTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// WorkItemOrigin identifies where a work item was ingested from.
type WorkItemOrigin string

// WorkItemOrigin values.
const (
	OriginManual      WorkItemOrigin = "manual"
	OriginCodeComment WorkItemOrigin = "code_comment"
	OriginQueueFile   WorkItemOrigin = "queue_file"
	OriginIssue       WorkItemOrigin = "issue"
	OriginMaintenance WorkItemOrigin = "maintenance"
)

// validOrigins stores all supported origin values.
var validOrigins = []WorkItemOrigin{
	OriginManual,
	OriginCodeComment,
	OriginQueueFile,
	OriginIssue,
	OriginMaintenance,
}

// IsValidOrigin reports whether o is a known origin.
func IsValidOrigin(o WorkItemOrigin) bool {
	for _, v := range validOrigins {
		if v == o {
			return true
		}
	}
	return false
}

// WorkItem is one unit of autonomous work.
type WorkItem struct {
	ID            string
	Title         string
	Detail        string
	Origin        WorkItemOrigin
	OriginRef     string
	State         WorkItemState
	Priority      float64
	Tier          Tier
	WorkBranch    string
	WorkDir       string
	ResultSummary string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// WorkItemInput holds write-time values for WorkItem construction.
type WorkItemInput struct {
	ID        string
	Title     string
	Detail    string
	Origin    WorkItemOrigin
	OriginRef string
	Priority  float64
	Tier      Tier
	WorkDir   string
}

// NewWorkItem validates and normalizes a new pending work item.
func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Detail = strings.TrimSpace(in.Detail)
	in.OriginRef = strings.TrimSpace(in.OriginRef)

	if in.ID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}
	if in.Origin == "" {
		in.Origin = OriginManual
	}
	if !IsValidOrigin(in.Origin) {
		return WorkItem{}, ErrInvalidOrigin
	}
	if in.Tier != "" && !IsValidTier(in.Tier) {
		return WorkItem{}, ErrInvalidTier
	}
	if in.Priority < 0 || in.Priority > 100 {
		return WorkItem{}, ErrInvalidPriority
	}

	return WorkItem{
		ID:        in.ID,
		Title:     in.Title,
		Detail:    in.Detail,
		Origin:    in.Origin,
		OriginRef: in.OriginRef,
		State:     StatePending,
		Priority:  in.Priority,
		Tier:      in.Tier,
		WorkDir:   strings.TrimSpace(in.WorkDir),
		CreatedAt: now.UTC(),
	}, nil
}

// Transition moves the item to next, stamping timestamps as appropriate.
func (w *WorkItem) Transition(next WorkItemState, now time.Time) error {
	if !IsValidState(next) {
		return ErrInvalidState
	}
	if !w.State.CanTransition(next) {
		return ErrInvalidTransition
	}
	w.State = next
	ts := now.UTC()
	switch next {
	case StateRunning:
		w.StartedAt = &ts
	case StateCompleted, StateFailed:
		w.CompletedAt = &ts
	}
	return nil
}
