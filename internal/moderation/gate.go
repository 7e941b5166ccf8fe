// Package moderation decides whether a user is currently banned.
package moderation

import (
	"context"
	"fmt"
	"time"

	"pixelgrid/pkg/interfaces"
)

// Gate implements interfaces.ModerationGate over a BanStore. It only reads;
// bans are managed through the admin side channel.
type Gate struct {
	bans interfaces.BanStore
}

var _ interfaces.ModerationGate = (*Gate)(nil)

// NewGate creates a gate reading from bans.
func NewGate(bans interfaces.BanStore) *Gate {
	if bans == nil {
		panic("ban store cannot be nil for Gate")
	}
	return &Gate{bans: bans}
}

// IsBanned implements interfaces.ModerationGate. A user is banned iff a
// record exists and it has no expiry or the expiry is after now.
func (g *Gate) IsBanned(ctx context.Context, userID string, now time.Time) (bool, error) {
	ban, err := g.bans.GetBan(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup ban for user %s: %w", userID, err)
	}
	return ban.ActiveAt(now), nil
}
