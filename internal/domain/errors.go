package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidTitle      = errors.New("invalid title")
	ErrInvalidOrigin     = errors.New("invalid origin")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTier       = errors.New("invalid tier")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidScope      = errors.New("invalid correction scope")
	ErrInvalidPercent    = errors.New("percent must be between 0 and 100")
)
