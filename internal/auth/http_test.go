// ABOUTME: Tests for the HTTP authorization gate
// ABOUTME: Covers token extraction, 401 reason codes, the 403 scope check, and a JWKS round trip

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/matdevis-gateway/internal/jwks"
)

// fakeVerifier returns a fixed result.
type fakeVerifier struct {
	claims *Claims
	err    error
}

func (f fakeVerifier) Verify(_ context.Context, _ string) (*Claims, error) {
	return f.claims, f.err
}

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (o *recordingObserver) AuthDecision(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
}

func serveGate(t *testing.T, cfg GateConfig, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.NotNil(t, FromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	Gate(cfg)(next).ServeHTTP(rec, req)
	return rec, called
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"", "", true},
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"Token abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.wantErr, errMsg != "", errMsg)
		})
	}
}

func TestGateAllows(t *testing.T) {
	obs := &recordingObserver{}
	claims := &Claims{Scope: "openid matdevis:devis"}
	rec, called := serveGate(t, GateConfig{Verifier: fakeVerifier{claims: claims}, Observer: obs}, "Bearer x")

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{ReasonAllowed}, obs.reasons)
}

func TestGateUnauthenticated(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{fmt.Errorf("%w: missing authorization header", ErrInvalidToken), ReasonInvalidToken},
		{ErrMissingKeyID, ReasonMissingKeyID},
		{fmt.Errorf("%w: %w", ErrInvalidSignature, jwks.ErrKeyNotFound), ReasonInvalidSignature},
		{fmt.Errorf("%w: token is expired", ErrExpiredOrWrongAudience), ReasonExpiredOrWrongAudience},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			obs := &recordingObserver{}
			rec, called := serveGate(t, GateConfig{Verifier: fakeVerifier{err: tt.err}, Observer: obs}, "Bearer x")

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			body := decodeBody(t, rec)
			assert.Equal(t, tt.reason, body.Error)
			assert.NotEmpty(t, body.Description)
			assert.Equal(t, []string{tt.reason}, obs.reasons)
		})
	}
}

func TestGateHidesKeyResolutionDetail(t *testing.T) {
	err := fmt.Errorf("%w: %w: status 500: upstream detail", ErrInvalidSignature, jwks.ErrFetch)
	rec, _ := serveGate(t, GateConfig{Verifier: fakeVerifier{err: err}}, "Bearer x")

	body := decodeBody(t, rec)
	assert.Equal(t, ReasonInvalidSignature, body.Error)
	assert.NotContains(t, body.Description, "upstream detail")
}

func TestGateInsufficientScope(t *testing.T) {
	obs := &recordingObserver{}
	claims := &Claims{Scope: "openid profile"}
	rec, called := serveGate(t, GateConfig{Verifier: fakeVerifier{claims: claims}, Observer: obs}, "Bearer x")

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `scope="matdevis:devis"`)

	body := decodeBody(t, rec)
	assert.Equal(t, ReasonInsufficientScope, body.Error)
	assert.Contains(t, body.Description, "matdevis:devis")
	assert.Equal(t, []string{ReasonInsufficientScope}, obs.reasons)
}

func TestGateCustomScope(t *testing.T) {
	claims := &Claims{Scope: "quotes:write"}
	rec, called := serveGate(t, GateConfig{Verifier: fakeVerifier{claims: claims}, RequiredScope: "quotes:write"}, "Bearer x")

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReasonCode(t *testing.T) {
	assert.Equal(t, ReasonInsufficientScope, ReasonCode(ErrInsufficientScope))
	assert.Equal(t, ReasonInvalidToken, ReasonCode(fmt.Errorf("unclassified")))
}

func TestGateWithPublishedKeys(t *testing.T) {
	key := generateKey(t)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key: &key.PublicKey, KeyID: testKID, Algorithm: "RS256", Use: "sig",
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	cache, err := jwks.New(jwks.Config{URL: srv.URL, Limiter: jwks.NewTokenBucket(5, time.Minute)})
	require.NoError(t, err)
	v, err := NewVerifier(VerifierConfig{
		Keys: cache, Issuer: testIssuer, Audience: testAudience,
		Now: func() time.Time { return testNow },
	})
	require.NoError(t, err)

	rec, called := serveGate(t, GateConfig{Verifier: v}, "Bearer "+signRS256(t, key, testKID, validClaims()))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, called = serveGate(t, GateConfig{Verifier: v}, "Bearer "+signRS256(t, key, "rotated-away", validClaims()))
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidSignature, decodeBody(t, rec).Error)
}
