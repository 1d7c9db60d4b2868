package app

import (
	"context"
	"fmt"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/domain"
)

// ReviewDetail carries everything a reviewer needs for one completed item.
type ReviewDetail struct {
	Item domain.WorkItem
	Log  string
	Diff string
}

// Review drives the human approve/reject workflow over completed items.
type Review struct {
	repo  Repository
	ws    Workspace
	clock Clock
	log   *charmLog.Logger
}

// NewReview constructs a Review service.
func NewReview(repo Repository, ws Workspace, clock Clock, logger *charmLog.Logger) *Review {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Review{repo: repo, ws: ws, clock: clock, log: logger}
}

// List returns completed items awaiting review.
func (r *Review) List(ctx context.Context) ([]domain.WorkItem, error) {
	return r.repo.WorkItemsByState(ctx, domain.StateCompleted)
}

// Show returns the item along with its branch log and diff when a work
// branch was recorded.
func (r *Review) Show(ctx context.Context, id string) (ReviewDetail, error) {
	item, err := r.repo.GetWorkItem(ctx, id)
	if err != nil {
		return ReviewDetail{}, err
	}
	detail := ReviewDetail{Item: item}
	if item.WorkBranch != "" && item.WorkDir != "" {
		if log, err := r.ws.Log(item.WorkDir, item.WorkBranch, "HEAD"); err == nil {
			detail.Log = log
		}
		if diff, err := r.ws.Diff(item.WorkDir, item.WorkBranch, "HEAD"); err == nil {
			detail.Diff = diff
		}
	}
	return detail, nil
}

// checkReviewable validates the invariants for approve/reject.
func (r *Review) checkReviewable(item domain.WorkItem) error {
	if item.State != domain.StateCompleted {
		return fmt.Errorf("%w: state is %s", ErrNotCompleted, item.State)
	}
	return nil
}

// Approve merges a completed item's work branch into the current branch
// and deletes the branch afterwards.
func (r *Review) Approve(ctx context.Context, id string) error {
	item, err := r.repo.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if err := r.checkReviewable(item); err != nil {
		return err
	}
	if item.WorkBranch == "" {
		return ErrNoBranch
	}
	if item.WorkDir == "" {
		return ErrNoWorkDir
	}

	target, err := r.ws.CurrentBranch(item.WorkDir)
	if err != nil {
		return err
	}
	if err := r.ws.Merge(item.WorkDir, item.WorkBranch, target); err != nil {
		return fmt.Errorf("merge %s into %s: %w", item.WorkBranch, target, err)
	}
	if err := r.ws.DeleteBranch(item.WorkDir, item.WorkBranch); err != nil {
		// Already merged; losing the branch pointer is not critical.
		r.log.Warn("could not delete merged branch", "branch", item.WorkBranch, "err", err)
	}
	return nil
}

// Reject marks a completed item cancelled and deletes its work branch.
func (r *Review) Reject(ctx context.Context, id string) error {
	item, err := r.repo.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if err := r.checkReviewable(item); err != nil {
		return err
	}
	if item.WorkBranch != "" && item.WorkDir != "" {
		if err := r.ws.DeleteBranch(item.WorkDir, item.WorkBranch); err != nil {
			r.log.Warn("could not delete rejected branch", "branch", item.WorkBranch, "err", err)
		}
	}
	if err := item.Transition(domain.StateCancelled, r.clock()); err != nil {
		return err
	}
	return r.repo.UpdateWorkItem(ctx, item)
}
