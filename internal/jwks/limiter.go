// ABOUTME: Rate limiters bounding outbound key-set fetches.
// ABOUTME: Token bucket in memory (x/time/rate) or a fixed window shared through Redis.

package jwks

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Result reports a limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether an outbound fetch may happen now.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// TokenBucket is an in-process limiter shared by every caller of one Cache.
type TokenBucket struct {
	lim *rate.Limiter
}

// NewTokenBucket allows n fetches per window with a burst of n.
func NewTokenBucket(n int, per time.Duration) *TokenBucket {
	if n <= 0 {
		n = 1
	}
	if per <= 0 {
		per = time.Minute
	}
	return &TokenBucket{lim: rate.NewLimiter(rate.Every(per/time.Duration(n)), n)}
}

// Allow consumes a token if one is available. The key is ignored.
func (b *TokenBucket) Allow(_ context.Context, _ string) (Result, error) {
	r := b.lim.Reserve()
	if !r.OK() {
		return Result{}, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return Result{RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int64(b.lim.Tokens())}, nil
}

// RedisLimiter is a fixed-window limiter (INCR + EXPIRE) so that several
// replicas share one fetch budget against the identity provider.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

// NewRedisLimiter builds a fixed-window limiter of max hits per window.
func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "matdevis:jwks:"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
	}
}

func (l *RedisLimiter) windowStart(now time.Time) time.Time {
	return now.UTC().Truncate(l.Window)
}

// windowKey names the counter of the window containing now.
func (l *RedisLimiter) windowKey(key string, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), l.windowStart(now).Unix())
}

// Allow counts one hit in the current window. The counter and its expiry are
// written in one transaction so no counter outlives its window by more than
// one window length.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	redisKey := l.windowKey(key, now)

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit counter: %w", err)
	}

	hits := incr.Val()
	if hits <= l.Max {
		return Result{Allowed: true, Remaining: l.Max - hits}, nil
	}
	return Result{RetryAfter: max(l.windowStart(now).Add(l.Window).Sub(now), time.Millisecond)}, nil
}
