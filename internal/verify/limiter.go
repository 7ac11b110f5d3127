package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles public lookups per hashed client IP. Only negative
// lookups count; a positive lookup clears the streak. Once the streak
// reaches the configured maximum, the address is blocked for the cool-off.
type RateLimiter struct {
	rdb     *redis.Client
	window  time.Duration
	coolOff time.Duration
}

// NewRateLimiter constructs a limiter. window bounds how long a negative
// streak accumulates; coolOff is the block duration once tripped.
func NewRateLimiter(rdb *redis.Client, window, coolOff time.Duration) *RateLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if coolOff <= 0 {
		coolOff = 15 * time.Minute
	}
	return &RateLimiter{rdb: rdb, window: window, coolOff: coolOff}
}

func (l *RateLimiter) streakKey(ipHash string) string {
	return fmt.Sprintf("verify:neg:%s", ipHash)
}

func (l *RateLimiter) blockKey(ipHash string) string {
	return fmt.Sprintf("verify:block:%s", ipHash)
}

// Blocked reports whether the address is inside a cool-off.
func (l *RateLimiter) Blocked(ctx context.Context, ipHash string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.blockKey(ipHash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordNegative bumps the negative streak and trips the block when it
// reaches max.
func (l *RateLimiter) RecordNegative(ctx context.Context, ipHash string, max int) error {
	key := l.streakKey(ipHash)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return err
		}
	}
	if max > 0 && n >= int64(max) {
		if err := l.rdb.Set(ctx, l.blockKey(ipHash), 1, l.coolOff).Err(); err != nil {
			return err
		}
		return l.rdb.Del(ctx, key).Err()
	}
	return nil
}

// RecordPositive resets the negative streak.
func (l *RateLimiter) RecordPositive(ctx context.Context, ipHash string) error {
	return l.rdb.Del(ctx, l.streakKey(ipHash)).Err()
}
