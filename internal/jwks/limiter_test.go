// ABOUTME: Tests for the fetch rate limiters.
// ABOUTME: The Redis limiter runs against miniredis, plus window keys and connection failures.

package jwks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowsBurstThenRejects(t *testing.T) {
	b := NewTokenBucket(2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := b.Allow(ctx, "idp")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}

	res, err := b.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 30*time.Minute)
}

func TestTokenBucketRejectionDoesNotConsume(t *testing.T) {
	b := NewTokenBucket(1, 100*time.Millisecond)
	ctx := context.Background()

	res, _ := b.Allow(ctx, "idp")
	require.True(t, res.Allowed)
	for n := 0; n < 5; n++ {
		res, _ = b.Allow(ctx, "idp")
		assert.False(t, res.Allowed)
	}

	time.Sleep(120 * time.Millisecond)
	res, _ = b.Allow(ctx, "idp")
	assert.True(t, res.Allowed)
}

func TestNewTokenBucketDefaults(t *testing.T) {
	b := NewTokenBucket(0, 0)
	res, err := b.Allow(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiterWindowKey(t *testing.T) {
	l := NewRedisLimiter(nil, "", 5, time.Minute)
	assert.Equal(t, "matdevis:jwks:", l.Prefix)

	got := l.windowKey("https://idp.example/jwks", time.Unix(125, 0))
	assert.Equal(t, "matdevis:jwks:https://idp.example/jwks:120", got)

	// same window, same counter
	assert.Equal(t, got, l.windowKey("https://idp.example/jwks", time.Unix(179, 0)))
	assert.NotEqual(t, got, l.windowKey("https://idp.example/jwks", time.Unix(180, 0)))

	custom := NewRedisLimiter(nil, "p:", 1, 0)
	assert.Equal(t, time.Minute, custom.Window)
	assert.Equal(t, "p:a_b:0", custom.windowKey("a b", time.Unix(59, 0)))
}

func TestRedisLimiterUnreachable(t *testing.T) {
	client := rdb.NewClient(&rdb.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "", 5, time.Minute)
	_, err := l.Allow(context.Background(), "idp")
	assert.Error(t, err)
}

func TestRedisLimiterSharesWindowAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	// an hour-long window keeps the test inside one counter
	a := NewRedisLimiter(client, "", 2, time.Hour)
	b := NewRedisLimiter(client, "", 2, time.Hour)

	res, err := a.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Remaining)

	res, err = b.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)

	res, err = a.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)

	// other keys keep their own budget
	res, err = b.Allow(ctx, "other-idp")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// the counter expires with its window
	mr.FastForward(time.Hour + time.Second)
	res, err = a.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiterCounterAlwaysExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	l := NewRedisLimiter(client, "", 1, time.Hour)
	for n := 0; n < 3; n++ {
		_, err := l.Allow(ctx, "idp")
		require.NoError(t, err)
	}

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		ttl := mr.TTL(k)
		assert.Greater(t, ttl, time.Duration(0), k)
		assert.LessOrEqual(t, ttl, time.Hour, k)
	}

	res, err := l.Allow(ctx, "idp")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)
}

func TestCacheWithRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ks := newKeyServer(t, rsaJWK(t, "k1"))
	c := newTestCache(t, Config{URL: ks.URL, Limiter: NewRedisLimiter(client, "", 1, time.Hour)})

	_, err := c.Key(context.Background(), "k1")
	require.NoError(t, err)
	_, err = c.Key(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), ks.hits.Load())
}
