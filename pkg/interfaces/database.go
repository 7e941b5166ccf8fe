package interfaces

import (
	"context"

	"pixelgrid/pkg/types"
)

// PlacementLog is the durable, append-only placement history.
// Records are never mutated or deleted once appended.
type PlacementLog interface {
	// AppendPlacement durably records p and assigns p.Seq. A nil error means
	// the record survives a restart.
	AppendPlacement(ctx context.Context, p *types.Placement) error

	// ListPlacements returns every record in append order. Used to rebuild
	// the grid cache at startup and for audit.
	ListPlacements(ctx context.Context) ([]*types.Placement, error)

	// ListPlacementsAfter returns up to limit records with Seq > afterSeq in
	// append order.
	ListPlacementsAfter(ctx context.Context, afterSeq int64, limit int) ([]*types.Placement, error)
}

// AccountStore is the account collaborator owning credit balances.
type AccountStore interface {
	// GetBalance returns the user's balance; unknown users have balance 0.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// DebitOne atomically decrements a positive balance by one and reports
	// whether it did. It never produces a negative balance.
	DebitOne(ctx context.Context, userID string) (bool, error)

	// CreditAmount adds n (> 0) to the balance and returns the new balance.
	// Used by top-up flows only.
	CreditAmount(ctx context.Context, userID string, n int64) (int64, error)
}

// BanStore is the ban collaborator.
type BanStore interface {
	// GetBan returns the user's ban record or nil when there is none.
	GetBan(ctx context.Context, userID string) (*types.Ban, error)

	// SetBan creates or replaces the user's ban record.
	SetBan(ctx context.Context, ban *types.Ban) error

	// LiftBan removes the user's ban record. Lifting a missing ban is not an error.
	LiftBan(ctx context.Context, userID string) error
}

// Store bundles every durable collaborator a single backend provides.
type Store interface {
	PlacementLog
	AccountStore
	BanStore

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
