package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrEmptySessionID   = errors.New("connection must have a session id before registration")
	ErrDuplicateSession = errors.New("session id already registered")
)

// ErrShuttingDown is returned for sessions that arrive after Handler.Shutdown.
var ErrShuttingDown = errors.New("session handler is shutting down")
