package interfaces

import "errors"

// Common collaborator errors used across components
var (
	ErrUnverified    = errors.New("identity not verified")
	ErrUnavailable   = errors.New("collaborator unavailable")
	ErrInvalidAmount = errors.New("credit amount must be positive")
)
