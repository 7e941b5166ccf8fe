// Package memstore provides in-process implementations of the durable
// collaborators. Nothing survives a restart; it backs tests and the
// "memory" storage driver.
package memstore

import (
	"context"
	"sort"
	"sync"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// Store implements interfaces.Store in memory.
type Store struct {
	mu         sync.RWMutex
	balances   map[string]int64
	bans       map[string]types.Ban
	placements []types.Placement
	nextSeq    int64
}

var _ interfaces.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances: make(map[string]int64),
		bans:     make(map[string]types.Ban),
	}
}

// AppendPlacement implements interfaces.PlacementLog.
func (s *Store) AppendPlacement(_ context.Context, p *types.Placement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	p.Seq = s.nextSeq
	s.placements = append(s.placements, *p)
	return nil
}

// ListPlacements implements interfaces.PlacementLog.
func (s *Store) ListPlacements(ctx context.Context) ([]*types.Placement, error) {
	return s.ListPlacementsAfter(ctx, 0, 0)
}

// ListPlacementsAfter implements interfaces.PlacementLog. limit <= 0 means no limit.
func (s *Store) ListPlacementsAfter(_ context.Context, afterSeq int64, limit int) ([]*types.Placement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.placements), func(i int) bool {
		return s.placements[i].Seq > afterSeq
	})
	end := len(s.placements)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]*types.Placement, 0, end-start)
	for i := start; i < end; i++ {
		p := s.placements[i]
		out = append(out, &p)
	}
	return out, nil
}

// GetBalance implements interfaces.AccountStore.
func (s *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

// DebitOne implements interfaces.AccountStore.
func (s *Store) DebitOne(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] <= 0 {
		return false, nil
	}
	s.balances[userID]--
	return true, nil
}

// CreditAmount implements interfaces.AccountStore.
func (s *Store) CreditAmount(_ context.Context, userID string, n int64) (int64, error) {
	if n <= 0 {
		return 0, interfaces.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += n
	return s.balances[userID], nil
}

// GetBan implements interfaces.BanStore.
func (s *Store) GetBan(_ context.Context, userID string) (*types.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ban, exists := s.bans[userID]
	if !exists {
		return nil, nil
	}
	return &ban, nil
}

// SetBan implements interfaces.BanStore.
func (s *Store) SetBan(_ context.Context, ban *types.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[ban.UserID] = *ban
	return nil
}

// LiftBan implements interfaces.BanStore.
func (s *Store) LiftBan(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, userID)
	return nil
}

// HealthCheck implements interfaces.Store.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close implements interfaces.Store.
func (s *Store) Close() error { return nil }
