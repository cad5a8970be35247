// ABOUTME: Signing-key cache backed by the identity provider's published key set.
// ABOUTME: Serves hits from memory; coalesces, rate-limits, and times out fetches on miss.

package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Key resolution errors.
var (
	ErrKeyNotFound  = errors.New("signing key not found")
	ErrFetch        = errors.New("key set fetch failed")
	ErrFetchTimeout = errors.New("key set fetch timed out")
	ErrRateLimited  = errors.New("key set fetch rate limited")
)

// Defaults applied by New when the config leaves a field unset.
const (
	DefaultTTL          = time.Hour
	DefaultFetchTimeout = 5 * time.Second
)

// maxDocumentSize caps the key set response body (1MB).
const maxDocumentSize = 1 << 20

// flightKey coalesces every concurrent refresh into one fetch.
const flightKey = "jwks"

// Fetch outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
)

// SigningKey is one public key of the published set.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// Observer receives cache events, typically for metrics. May be nil.
type Observer interface {
	KeyLookup(hit bool)
	KeyFetch(outcome string, elapsed time.Duration)
}

// Config holds configuration for the key cache.
type Config struct {
	URL          string
	HTTPClient   *http.Client
	TTL          time.Duration // lifetime of a fetched key
	FetchTimeout time.Duration // bound on one fetch, independent of callers
	Limiter      Limiter       // nil disables rate limiting
	WaitOnLimit  bool          // wait out the limiter instead of failing
	Logger       *slog.Logger
	Observer     Observer
}

// Cache resolves key identifiers to public keys.
type Cache struct {
	url          string
	client       *http.Client
	keys         *gocache.Cache
	fetchTimeout time.Duration
	limiter      Limiter
	waitOnLimit  bool
	group        singleflight.Group
	logger       *slog.Logger
	observer     Observer
}

// New creates a key cache for the key set published at cfg.URL.
func New(cfg Config) (*Cache, error) {
	if cfg.URL == "" {
		return nil, errors.New("key set URL is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		url:          cfg.URL,
		client:       client,
		keys:         gocache.New(ttl, 10*time.Minute),
		fetchTimeout: fetchTimeout,
		limiter:      cfg.Limiter,
		waitOnLimit:  cfg.WaitOnLimit,
		logger:       logger,
		observer:     cfg.Observer,
	}, nil
}

// Key returns the signing key for kid, fetching the key set on a miss.
func (c *Cache) Key(ctx context.Context, kid string) (SigningKey, error) {
	if kid == "" {
		return SigningKey{}, fmt.Errorf("%w: empty key id", ErrKeyNotFound)
	}

	if k, ok := c.lookup(kid); ok {
		c.observeLookup(true)
		return k, nil
	}
	c.observeLookup(false)

	if err := c.Warm(ctx); err != nil {
		return SigningKey{}, err
	}

	if k, ok := c.lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Warm fetches the key set now, joining a fetch already in flight.
// ctx only bounds this caller's wait; the shared fetch keeps its own deadline.
func (c *Cache) Warm(ctx context.Context) error {
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return nil, c.refresh()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
	}
}

// Invalidate drops every cached key. The next lookup refetches.
func (c *Cache) Invalidate() {
	c.keys.Flush()
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	return c.keys.ItemCount()
}

func (c *Cache) lookup(kid string) (SigningKey, bool) {
	v, ok := c.keys.Get(kid)
	if !ok {
		return SigningKey{}, false
	}
	k, ok := v.(SigningKey)
	return k, ok
}

// refresh fetches the key set and replaces the cached keys. It runs at most
// once at a time, detached from any single request.
func (c *Cache) refresh() error {
	if err := c.acquire(); err != nil {
		c.observeFetch(OutcomeRateLimited, 0)
		c.logger.Warn("key set fetch rate limited", "url", c.url)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	start := time.Now()
	keys, err := c.fetch(ctx)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.observeFetch(OutcomeTimeout, elapsed)
			c.logger.Warn("key set fetch timed out", "url", c.url, "timeout", c.fetchTimeout)
			return fmt.Errorf("%w after %s", ErrFetchTimeout, c.fetchTimeout)
		}
		c.observeFetch(OutcomeError, elapsed)
		c.logger.Warn("key set fetch failed", "url", c.url, "error", err)
		return err
	}
	c.observeFetch(OutcomeOK, elapsed)

	fresh := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		c.keys.Set(k.KeyID, k, gocache.DefaultExpiration)
		fresh[k.KeyID] = struct{}{}
	}
	// Retired keys leave the cache as soon as the provider stops publishing them.
	for kid := range c.keys.Items() {
		if _, ok := fresh[kid]; !ok {
			c.keys.Delete(kid)
		}
	}

	c.logger.Info("signing keys refreshed", "url", c.url, "count", len(keys), "elapsed", elapsed)
	return nil
}

// acquire asks the limiter for permission to fetch.
func (c *Cache) acquire() error {
	if c.limiter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	for {
		res, err := c.limiter.Allow(ctx, c.url)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		if res.Allowed {
			return nil
		}
		if !c.waitOnLimit || res.RetryAfter <= 0 || res.RetryAfter > c.fetchTimeout {
			return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter)
		}

		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrRateLimited, ctx.Err())
		}
	}
}

// fetch downloads and decodes the key set, keeping usable public signing keys.
func (c *Cache) fetch(ctx context.Context) ([]SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding key set: %v", ErrFetch, err)
	}

	keys := make([]SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			c.logger.Debug("skipping undecodable key", "error", err)
			continue
		}
		kid := strings.TrimSpace(jwk.KeyID)
		if kid == "" || (jwk.Use != "" && jwk.Use != "sig") || !jwk.IsPublic() || !jwk.Valid() {
			continue
		}
		keys = append(keys, SigningKey{KeyID: kid, Algorithm: jwk.Algorithm, Key: jwk.Key})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: key set contains no usable signing keys", ErrFetch)
	}
	return keys, nil
}

func (c *Cache) observeLookup(hit bool) {
	if c.observer != nil {
		c.observer.KeyLookup(hit)
	}
}

func (c *Cache) observeFetch(outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.KeyFetch(outcome, elapsed)
	}
}
