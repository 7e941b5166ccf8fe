// Package ratelimit holds per-user placement cooldown windows.
// MemoryLimiter serves a single process; RedisLimiter shares windows
// through Redis.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

const shardCount = 64

// MemoryLimiter keeps per-user cooldown deadlines in process memory.
// Users are spread over mutex-guarded shards; each user maps to exactly
// one shard, so operations for one user are linearizable.
type MemoryLimiter struct {
	shards [shardCount]limiterShard
}

type limiterShard struct {
	mu    sync.Mutex
	until map[string]time.Time // userID -> earliest time the next placement is allowed
}

var _ interfaces.RateLimiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{}
	for i := range l.shards {
		l.shards[i].until = make(map[string]time.Time)
	}
	return l
}

func (l *MemoryLimiter) shard(userID string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &l.shards[h.Sum32()%shardCount]
}

// CheckAndReserve implements interfaces.RateLimiter.
func (l *MemoryLimiter) CheckAndReserve(_ context.Context, userID string, now time.Time, cooldown time.Duration) (types.Reservation, error) {
	s := l.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, exists := s.until[userID]; exists && now.Before(until) {
		return types.Reservation{Allowed: false, Remaining: until.Sub(now)}, nil
	}

	// Zero cooldown disables the window; nothing to remember.
	if cooldown <= 0 {
		delete(s.until, userID)
		return types.Reservation{Allowed: true, Until: now}, nil
	}

	until := now.Add(cooldown)
	s.until[userID] = until
	return types.Reservation{Allowed: true, Until: until}, nil
}

// Release implements interfaces.RateLimiter.
func (l *MemoryLimiter) Release(_ context.Context, userID string, r types.Reservation) error {
	if !r.Allowed {
		return nil
	}
	s := l.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only remove the reservation this caller made
	if until, exists := s.until[userID]; exists && until.Equal(r.Until) {
		delete(s.until, userID)
	}
	return nil
}

// Cleanup removes entries whose window has passed and returns how many
// were removed.
func (l *MemoryLimiter) Cleanup(now time.Time) int {
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for userID, until := range s.until {
			if !now.Before(until) {
				delete(s.until, userID)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked users.
func (l *MemoryLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.until)
		s.mu.Unlock()
	}
	return n
}

// RunSweeper calls Cleanup every interval until ctx is done.
func (l *MemoryLimiter) RunSweeper(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.Cleanup(now()); removed > 0 {
				logrus.WithFields(logrus.Fields{
					"component": "ratelimit",
					"removed":   removed,
				}).Debug("Swept expired cooldown entries")
			}
		case <-ctx.Done():
			return
		}
	}
}
