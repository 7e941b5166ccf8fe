package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// reserveScript stores ARGV[2] with a PX of ARGV[3] unless the stored
// deadline is still ahead of ARGV[1]. Returns the remaining milliseconds
// when blocked and 0 when the reservation was made.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local current = redis.call('GET', KEYS[1])
if current then
	local untilMs = tonumber(current)
	if untilMs and untilMs > now then
		return untilMs - now
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('DEL', KEYS[1])
end
return 0
`)

// releaseScript deletes the key only if it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLimiter keeps cooldown deadlines in Redis so several processes (or a
// restarted one) share them. Each check is one Lua script, which Redis runs
// atomically.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ interfaces.RateLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter on client. Keys are "<prefix>cooldown:<user>".
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	if client == nil {
		panic("redis client cannot be nil for RedisLimiter")
	}
	if keyPrefix == "" {
		keyPrefix = "pg:"
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix}
}

func (l *RedisLimiter) cooldownKey(userID string) string {
	return l.keyPrefix + "cooldown:" + userID
}

// CheckAndReserve implements interfaces.RateLimiter.
func (l *RedisLimiter) CheckAndReserve(ctx context.Context, userID string, now time.Time, cooldown time.Duration) (types.Reservation, error) {
	nowMs := now.UnixMilli()
	until := now.Add(cooldown)
	remaining, err := reserveScript.Run(ctx, l.client,
		[]string{l.cooldownKey(userID)},
		nowMs, until.UnixMilli(), cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return types.Reservation{}, fmt.Errorf("redis: reserve cooldown for user %s: %w", userID, err)
	}
	if remaining > 0 {
		return types.Reservation{Allowed: false, Remaining: time.Duration(remaining) * time.Millisecond}, nil
	}
	if cooldown <= 0 {
		until = now
	}
	return types.Reservation{Allowed: true, Until: until}, nil
}

// Release implements interfaces.RateLimiter.
func (l *RedisLimiter) Release(ctx context.Context, userID string, r types.Reservation) error {
	if !r.Allowed {
		return nil
	}
	err := releaseScript.Run(ctx, l.client,
		[]string{l.cooldownKey(userID)},
		strconv.FormatInt(r.Until.UnixMilli(), 10),
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis: release cooldown for user %s: %w", userID, err)
	}
	return nil
}
