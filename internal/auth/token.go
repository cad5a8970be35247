// ABOUTME: RS256 bearer token verification against the identity provider's signing keys
// ABOUTME: Maps every failure onto one of four typed errors; the first failure wins

package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/matdevis-gateway/internal/jwks"
)

// Token errors
var (
	ErrInvalidToken           = errors.New("invalid token")
	ErrMissingKeyID           = errors.New("token header has no key id")
	ErrInvalidSignature       = errors.New("invalid token signature")
	ErrExpiredOrWrongAudience = errors.New("token expired or issued for another audience")
	ErrInsufficientScope      = errors.New("insufficient scope")
)

// DefaultLeeway is the usual clock skew tolerated on exp, nbf and iat.
const DefaultLeeway = 30 * time.Second

// signingAlgorithm is the only accepted token algorithm.
const signingAlgorithm = "RS256"

// Claims is the verified token payload.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(c.Scope)
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// KeyResolver looks up a signing key by key id.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (jwks.SigningKey, error)
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(ctx context.Context, authHeader string) (*Claims, error)
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Keys     KeyResolver
	Issuer   string
	Audience string
	Leeway   time.Duration    // clock skew tolerance; zero checks times exactly
	Now      func() time.Time // nil means time.Now
}

// Verifier implements TokenVerifier for RS256 tokens signed by one issuer.
type Verifier struct {
	keys   KeyResolver
	parser *jwt.Parser
}

// NewVerifier creates a verifier for tokens issued by cfg.Issuer to cfg.Audience.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	if cfg.Leeway < 0 {
		return nil, errors.New("leeway must not be negative")
	}
	opts := []jwt.ParserOption{
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Verifier{
		keys:   cfg.Keys,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks the Authorization header value and returns the token claims.
func (v *Verifier) Verify(ctx context.Context, authHeader string) (*Claims, error) {
	raw, errMsg := extractBearerToken(authHeader)
	if errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, errMsg)
	}

	claims := &Claims{}
	var keyErr error
	_, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		pub, err := v.resolveKey(ctx, token)
		keyErr = err
		return pub, err
	})
	if keyErr != nil {
		return nil, keyErr
	}
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// resolveKey is the parser key func: kid first, then algorithm, then the cache.
func (v *Verifier) resolveKey(ctx context.Context, token *jwt.Token) (*rsa.PublicKey, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	// Checked here rather than with WithValidMethods so a missing kid is reported first.
	if token.Method.Alg() != signingAlgorithm {
		return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidSignature, token.Header["alg"])
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if key.Algorithm != "" && key.Algorithm != signingAlgorithm {
		return nil, fmt.Errorf("%w: key %q is for %s", ErrInvalidSignature, kid, key.Algorithm)
	}
	pub, ok := key.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key %q is not an RSA key", ErrInvalidSignature, kid)
	}
	return pub, nil
}

// classify maps a parser error onto the verifier's error set, keeping the cause.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrExpiredOrWrongAudience, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
