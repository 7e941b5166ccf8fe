package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("user ID must be 1-256 printable characters")
	ErrInvalidColor       = errors.New("color must be 6 hex digits with optional leading #")
	ErrOutOfBounds        = errors.New("coordinates outside the grid")
	ErrNonIntegerCoord    = errors.New("coordinates must be integers")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidGridSize    = errors.New("grid dimensions and chunk size must be positive")
)
