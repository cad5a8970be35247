// Package jwks resolves token signing keys from an identity provider's
// published JSON Web Key Set.
//
// A Cache keeps every fetched key for a TTL and serves hits from memory. On a
// miss it fetches the whole set once, however many requests are waiting, on a
// context of its own bounded by the fetch timeout. Each caller waits on its own
// context and may give up without affecting the fetch.
//
// Outbound fetches go through a Limiter so that tokens carrying unknown key ids
// cannot flood the provider:
//
//	cache, err := jwks.New(jwks.Config{
//		URL:     "https://idp.example/.well-known/jwks.json",
//		Limiter: jwks.NewTokenBucket(10, time.Minute),
//	})
//	key, err := cache.Key(ctx, kid)
//
// NewRedisLimiter shares the budget between replicas.
package jwks
