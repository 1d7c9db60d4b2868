package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures
// surfaced synchronously at the API boundary.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateRef = errors.New("duplicate origin reference")
	ErrItemRunning  = errors.New("work item is running")
	ErrNotPending   = errors.New("work item is not pending")
	ErrNotCompleted = errors.New("work item is not completed")
	ErrNoBranch     = errors.New("work item has no recorded branch")
	ErrNoWorkDir    = errors.New("work item has no recorded work directory")
)
