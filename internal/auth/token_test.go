// ABOUTME: Unit tests for RS256 token verification
// ABOUTME: Mints tokens with throwaway RSA keys and checks each failure class

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/matdevis-gateway/internal/jwks"
)

const (
	testIssuer   = "https://idp.example/"
	testAudience = "https://matdevis.example/mcp"
	testKID      = "key-1"
)

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

// staticKeys is a KeyResolver over a fixed map.
type staticKeys map[string]jwks.SigningKey

func (s staticKeys) Key(_ context.Context, kid string) (jwks.SigningKey, error) {
	k, ok := s[kid]
	if !ok {
		return jwks.SigningKey{}, fmt.Errorf("%w: kid %q", jwks.ErrKeyNotFound, kid)
	}
	return k, nil
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func validClaims() *Claims {
	return &Claims{
		Scope: "openid profile matdevis:devis",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "auth0|user-42",
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Keys:     staticKeys{testKID: {KeyID: testKID, Algorithm: "RS256", Key: &key.PublicKey}},
		Issuer:   testIssuer,
		Audience: testAudience,
		Leeway:   DefaultLeeway,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresFields(t *testing.T) {
	keys := staticKeys{}
	tests := []struct {
		name string
		cfg  VerifierConfig
	}{
		{"no keys", VerifierConfig{Issuer: testIssuer, Audience: testAudience}},
		{"no issuer", VerifierConfig{Keys: keys, Audience: testAudience}},
		{"no audience", VerifierConfig{Keys: keys, Issuer: testIssuer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestVerifyValidToken(t *testing.T) {
	key := generateKey(t)
	v := newTestVerifier(t, key)

	claims, err := v.Verify(context.Background(), "Bearer "+signRS256(t, key, testKID, validClaims()))
	require.NoError(t, err)

	assert.Equal(t, "auth0|user-42", claims.Subject)
	assert.Equal(t, []string{"openid", "profile", "matdevis:devis"}, claims.Scopes())
	assert.True(t, claims.HasScope("matdevis:devis"))
	assert.False(t, claims.HasScope("matdevis"))
}

func TestVerifyFailures(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	v := newTestVerifier(t, key)

	withClaims := func(mutate func(c *Claims)) *Claims {
		c := validClaims()
		mutate(c)
		return c
	}
	hs256 := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
		token.Header["kid"] = testKID
		s, err := token.SignedString([]byte("shared-secret-shared-secret-32b!"))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing header", "", ErrInvalidToken},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ErrInvalidToken},
		{"empty bearer", "Bearer ", ErrInvalidToken},
		{"garbage", "Bearer not-a-jwt", ErrInvalidToken},
		{"no kid", "Bearer " + signRS256(t, key, "", validClaims()), ErrMissingKeyID},
		{"unknown kid", "Bearer " + signRS256(t, key, "retired", validClaims()), ErrInvalidSignature},
		{"symmetric algorithm", "Bearer " + hs256(), ErrInvalidSignature},
		{"signed by another key", "Bearer " + signRS256(t, other, testKID, validClaims()), ErrInvalidSignature},
		{"expired", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute))
		})), ErrExpiredOrWrongAudience},
		{"no expiry", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.ExpiresAt = nil
		})), ErrExpiredOrWrongAudience},
		{"issued in the future", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.IssuedAt = jwt.NewNumericDate(testNow.Add(5 * time.Minute))
		})), ErrExpiredOrWrongAudience},
		{"not yet valid", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.NotBefore = jwt.NewNumericDate(testNow.Add(5 * time.Minute))
		})), ErrExpiredOrWrongAudience},
		{"wrong audience", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"https://other.example"}
		})), ErrExpiredOrWrongAudience},
		{"wrong issuer", "Bearer " + signRS256(t, key, testKID, withClaims(func(c *Claims) {
			c.Issuer = "https://evil.example/"
		})), ErrExpiredOrWrongAudience},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.header)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyUnknownKeyKeepsCause(t *testing.T) {
	key := generateKey(t)
	v := newTestVerifier(t, key)

	_, err := v.Verify(context.Background(), "Bearer "+signRS256(t, key, "retired", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, jwks.ErrKeyNotFound)
}

func TestVerifyClockSkewLeeway(t *testing.T) {
	key := generateKey(t)
	v := newTestVerifier(t, key)

	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-10 * time.Second))
	c.IssuedAt = jwt.NewNumericDate(testNow.Add(10 * time.Second))

	_, err := v.Verify(context.Background(), "Bearer "+signRS256(t, key, testKID, c))
	assert.NoError(t, err)
}

func TestVerifyZeroLeewayIsStrict(t *testing.T) {
	key := generateKey(t)
	v, err := NewVerifier(VerifierConfig{
		Keys:     staticKeys{testKID: {KeyID: testKID, Algorithm: "RS256", Key: &key.PublicKey}},
		Issuer:   testIssuer,
		Audience: testAudience,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-10 * time.Second))

	_, err = v.Verify(context.Background(), "Bearer "+signRS256(t, key, testKID, c))
	assert.ErrorIs(t, err, ErrExpiredOrWrongAudience)

	_, err = NewVerifier(VerifierConfig{Keys: staticKeys{}, Issuer: testIssuer, Audience: testAudience, Leeway: -time.Second})
	assert.Error(t, err)
}

func TestVerifyRejectsNonRSAKey(t *testing.T) {
	key := generateKey(t)
	v, err := NewVerifier(VerifierConfig{
		Keys:     staticKeys{testKID: {KeyID: testKID, Key: []byte("not a public key")}},
		Issuer:   testIssuer,
		Audience: testAudience,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "Bearer "+signRS256(t, key, testKID, validClaims()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimsScopesNil(t *testing.T) {
	var c *Claims
	assert.Nil(t, c.Scopes())
	assert.False(t, c.HasScope("matdevis:devis"))
	assert.Empty(t, (&Claims{}).Scopes())
}
