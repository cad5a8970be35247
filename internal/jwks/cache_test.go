// ABOUTME: Tests for the signing-key cache against an httptest key set endpoint.
// ABOUTME: Covers hits, coalesced misses, rotation, rate limits, timeouts, and cancellation.

package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyServer publishes a mutable key set and counts requests.
type keyServer struct {
	*httptest.Server

	mu    sync.Mutex
	set   jose.JSONWebKeySet
	hits  atomic.Int32
	delay time.Duration
	gate  chan struct{} // when non-nil, each request blocks until closed
	seen  chan struct{} // receives once per request when non-nil
}

func newKeyServer(t *testing.T, keys ...jose.JSONWebKey) *keyServer {
	t.Helper()
	ks := &keyServer{set: jose.JSONWebKeySet{Keys: keys}}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		if ks.seen != nil {
			ks.seen <- struct{}{}
		}
		if ks.gate != nil {
			<-ks.gate
		}
		if ks.delay > 0 {
			select {
			case <-time.After(ks.delay):
			case <-r.Context().Done():
				return
			}
		}
		ks.mu.Lock()
		defer ks.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ks.set)
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *keyServer) publish(keys ...jose.JSONWebKey) {
	ks.mu.Lock()
	ks.set = jose.JSONWebKeySet{Keys: keys}
	ks.mu.Unlock()
}

func rsaJWK(t *testing.T, kid string) jose.JSONWebKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

type countingObserver struct {
	mu       sync.Mutex
	hits     int
	misses   int
	outcomes []string
}

func (o *countingObserver) KeyLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) KeyFetch(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestKeyCachesAfterFirstFetch(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"), rsaJWK(t, "k2"))
	obs := &countingObserver{}
	c := newTestCache(t, Config{URL: ks.URL, Observer: obs})

	k, err := c.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", k.KeyID)
	assert.Equal(t, "RS256", k.Algorithm)
	assert.IsType(t, &rsa.PublicKey{}, k.Key)

	// k2 arrived with the same document
	_, err = c.Key(context.Background(), "k2")
	require.NoError(t, err)
	_, err = c.Key(context.Background(), "k1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), ks.hits.Load())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, []string{OutcomeOK}, obs.outcomes)
}

func TestKeyCoalescesConcurrentMisses(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	ks.gate = make(chan struct{})
	ks.seen = make(chan struct{}, 16)
	c := newTestCache(t, Config{URL: ks.URL})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Key(context.Background(), "k1")
			errs <- err
		}()
	}

	<-ks.seen
	time.Sleep(50 * time.Millisecond)
	close(ks.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), ks.hits.Load())
}

func TestKeyNotFound(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	c := newTestCache(t, Config{URL: ks.URL})

	_, err := c.Key(context.Background(), "retired")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = c.Key(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyRotationDropsRetiredKeys(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "old"))
	c := newTestCache(t, Config{URL: ks.URL})

	_, err := c.Key(context.Background(), "old")
	require.NoError(t, err)

	ks.publish(rsaJWK(t, "new"))

	_, err = c.Key(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = c.Key(context.Background(), "old")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(3), ks.hits.Load())
}

func TestKeyRateLimitedRejects(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	obs := &countingObserver{}
	c := newTestCache(t, Config{
		URL:      ks.URL,
		Limiter:  NewTokenBucket(1, time.Hour),
		Observer: obs,
	})

	_, err := c.Key(context.Background(), "k1")
	require.NoError(t, err)

	// unknown kids cannot flood the endpoint
	_, err = c.Key(context.Background(), "forged-1")
	assert.ErrorIs(t, err, ErrRateLimited)
	_, err = c.Key(context.Background(), "forged-2")
	assert.ErrorIs(t, err, ErrRateLimited)

	// hits are still served
	_, err = c.Key(context.Background(), "k1")
	assert.NoError(t, err)

	assert.Equal(t, int32(1), ks.hits.Load())
	assert.Equal(t, []string{OutcomeOK, OutcomeRateLimited, OutcomeRateLimited}, obs.outcomes)
}

func TestKeyRateLimitedWaits(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	c := newTestCache(t, Config{
		URL:          ks.URL,
		Limiter:      NewTokenBucket(10, time.Second), // one token every 100ms
		WaitOnLimit:  true,
		FetchTimeout: 2 * time.Second,
	})

	for n := 0; n < 10; n++ {
		c.Invalidate()
		_, err := c.Key(context.Background(), "k1")
		require.NoError(t, err)
	}

	c.Invalidate()
	start := time.Now()
	_, err := c.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(11), ks.hits.Load())
}

func TestKeyFetchTimeout(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	ks.delay = 500 * time.Millisecond
	obs := &countingObserver{}
	c := newTestCache(t, Config{URL: ks.URL, FetchTimeout: 50 * time.Millisecond, Observer: obs})

	_, err := c.Key(context.Background(), "k1")
	assert.ErrorIs(t, err, ErrFetchTimeout)
	assert.Equal(t, []string{OutcomeTimeout}, obs.outcomes)
	assert.Equal(t, 0, c.Len())
}

func TestKeyCallerCancellationKeepsSharedFetch(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"))
	ks.gate = make(chan struct{})
	ks.seen = make(chan struct{}, 4)
	c := newTestCache(t, Config{URL: ks.URL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Key(ctx, "k1")
		done <- err
	}()

	<-ks.seen
	cancel()
	err := <-done
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, context.Canceled)

	close(ks.gate)

	k, err := c.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", k.KeyID)
	assert.Equal(t, int32(1), ks.hits.Load())
}

func TestKeyFetchErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestCache(t, Config{URL: srv.URL})
		_, err := c.Key(context.Background(), "k1")
		assert.ErrorIs(t, err, ErrFetch)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		c := newTestCache(t, Config{URL: srv.URL})
		_, err := c.Key(context.Background(), "k1")
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("no usable keys", func(t *testing.T) {
		enc := rsaJWK(t, "enc")
		enc.Use = "enc"
		noKid := rsaJWK(t, "")
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"keys": []any{enc, noKid, map[string]string{"kty": "unknown", "kid": "x"}},
			})
		}))
		defer srv.Close()

		c := newTestCache(t, Config{URL: srv.URL})
		_, err := c.Key(context.Background(), "enc")
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("unreachable", func(t *testing.T) {
		c := newTestCache(t, Config{URL: "http://127.0.0.1:1/jwks.json", FetchTimeout: time.Second})
		_, err := c.Key(context.Background(), "k1")
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrFetch) || errors.Is(err, ErrFetchTimeout), err)
	})
}

func TestKeySkipsUnusableEntries(t *testing.T) {
	good := rsaJWK(t, "good")
	enc := rsaJWK(t, "enc")
	enc.Use = "enc"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []any{map[string]string{"kty": "unknown", "kid": "x"}, enc, good},
		})
	}))
	defer srv.Close()

	c := newTestCache(t, Config{URL: srv.URL})
	_, err := c.Key(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestWarmPopulatesCache(t *testing.T) {
	ks := newKeyServer(t, rsaJWK(t, "k1"), rsaJWK(t, "k2"))
	obs := &countingObserver{}
	c := newTestCache(t, Config{URL: ks.URL, Observer: obs})

	require.NoError(t, c.Warm(context.Background()))
	assert.Equal(t, 2, c.Len())

	_, err := c.Key(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ks.hits.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 0, obs.misses)
}
