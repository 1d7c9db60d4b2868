package app

import (
	"context"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// Tasks manages the work item queue outside of execution.
type Tasks struct {
	repo  Repository
	idGen IDGenerator
	clock Clock
}

// NewTasks constructs a Tasks service.
func NewTasks(repo Repository, idGen IDGenerator, clock Clock) *Tasks {
	if clock == nil {
		clock = time.Now
	}
	return &Tasks{repo: repo, idGen: idGen, clock: clock}
}

// Add creates a manual work item. A zero priority is replaced with the
// computed score.
func (t *Tasks) Add(ctx context.Context, title, detail string, priority float64, tier domain.Tier, workDir string) (domain.WorkItem, error) {
	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:       t.idGen(),
		Title:    title,
		Detail:   detail,
		Origin:   domain.OriginManual,
		Priority: priority,
		Tier:     tier,
		WorkDir:  workDir,
	}, t.clock())
	if err != nil {
		return domain.WorkItem{}, err
	}
	if priority == 0 {
		item.Priority = Score(item)
	}
	if err := t.repo.CreateWorkItem(ctx, item); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// List returns work items, optionally filtered by state.
func (t *Tasks) List(ctx context.Context, states ...domain.WorkItemState) ([]domain.WorkItem, error) {
	if len(states) == 0 {
		return t.repo.ListWorkItems(ctx)
	}
	return t.repo.WorkItemsByState(ctx, states...)
}

// Get looks up one work item.
func (t *Tasks) Get(ctx context.Context, id string) (domain.WorkItem, error) {
	return t.repo.GetWorkItem(ctx, id)
}

// Remove deletes a work item. Removal of a running item is rejected.
func (t *Tasks) Remove(ctx context.Context, id string) error {
	item, err := t.repo.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if item.State == domain.StateRunning {
		return ErrItemRunning
	}
	return t.repo.DeleteWorkItem(ctx, id)
}
