package interfaces

import (
	"context"
	"time"

	"pixelgrid/pkg/types"
)

// RateLimiter tracks, per user, the earliest time the next placement is allowed.
type RateLimiter interface {
	// CheckAndReserve is a single atomic test-and-set for userID: if now is
	// at or past the stored earliest-allowed time (or none is stored) it
	// stores now+cooldown, expiring after cooldown, and reports Allowed.
	// Otherwise it reports the remaining wait and changes nothing.
	CheckAndReserve(ctx context.Context, userID string, now time.Time, cooldown time.Duration) (types.Reservation, error)

	// Release undoes a reservation that was not followed by an accepted
	// placement. It is a no-op if a different reservation is stored.
	Release(ctx context.Context, userID string, r types.Reservation) error
}

// CreditLedger spends one credit per accepted placement.
type CreditLedger interface {
	// TryDebit atomically decrements a positive balance and reports whether
	// a credit was spent. Concurrent calls for one user serialize.
	TryDebit(ctx context.Context, userID string) (bool, error)
}

// ModerationGate answers whether a user is currently banned.
type ModerationGate interface {
	IsBanned(ctx context.Context, userID string, now time.Time) (bool, error)
}

// GridStore is the in-memory visible state, derived from the placement log.
type GridStore interface {
	// Get returns the cell color, or false when the cell is unset.
	Get(x, y int) (string, bool)

	// Set writes color at (x, y) if seq is newer than the cell's last
	// applied seq and reports whether it did. onApplied, when non-nil, runs
	// before any later write to the same cell can be applied.
	Set(x, y int, color string, seq int64, onApplied func()) bool
}

// Broadcaster fans events out to connected sessions. Neither call blocks on
// slow subscribers.
type Broadcaster interface {
	// Publish delivers event to every session connected at publish time.
	Publish(event interface{})

	// Unicast delivers event to one session and reports whether it was
	// queued. Events for disconnected sessions are dropped.
	Unicast(sessionID string, event interface{}) bool
}

// IdentityVerifier turns a handshake credential into a verified user id.
type IdentityVerifier interface {
	// Verify returns the verified user id or ErrUnverified.
	Verify(ctx context.Context, credential string) (string, error)
}
