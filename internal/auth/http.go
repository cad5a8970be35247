// ABOUTME: HTTP gate verifying the bearer token and the required scope on every call
// ABOUTME: Rejects with 401 on verification failure and 403 on a missing scope

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/matdevis-gateway/internal/jwks"
)

// DefaultRequiredScope is the scope every call must carry.
const DefaultRequiredScope = "matdevis:devis"

// Reason codes returned in rejection bodies.
const (
	ReasonInvalidToken           = "invalid_token"
	ReasonMissingKeyID           = "missing_key_id"
	ReasonInvalidSignature       = "invalid_signature"
	ReasonExpiredOrWrongAudience = "expired_or_wrong_audience"
	ReasonInsufficientScope      = "insufficient_scope"
)

// ReasonAllowed is reported to the observer for admitted calls.
const ReasonAllowed = "allowed"

// GateObserver counts gate decisions, typically for metrics.
type GateObserver interface {
	AuthDecision(reason string)
}

// GateConfig configures Gate.
type GateConfig struct {
	Verifier      TokenVerifier
	RequiredScope string // empty means DefaultRequiredScope
	Logger        *slog.Logger
	Observer      GateObserver
}

// errorBody is the JSON body of a rejection.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Gate returns middleware that admits a request only with a valid token
// granting the required scope. Verified claims are added to the request context.
func Gate(cfg GateConfig) func(http.Handler) http.Handler {
	scope := cfg.RequiredScope
	if scope == "" {
		scope = DefaultRequiredScope
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observe := func(reason string) {
		if cfg.Observer != nil {
			cfg.Observer.AuthDecision(reason)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := cfg.Verifier.Verify(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				reason := ReasonCode(err)
				observe(reason)
				logger.Warn("request rejected", "reason", reason, "error", err, "path", r.URL.Path)
				writeRejection(w, http.StatusUnauthorized,
					`Bearer error="invalid_token"`,
					errorBody{Error: reason, Description: Describe(err)})
				return
			}

			if !claims.HasScope(scope) {
				observe(ReasonInsufficientScope)
				logger.Warn("request rejected", "reason", ReasonInsufficientScope, "sub", claims.Subject, "scope", claims.Scope)
				writeRejection(w, http.StatusForbidden,
					fmt.Sprintf(`Bearer error="insufficient_scope", scope=%q`, scope),
					errorBody{Error: ReasonInsufficientScope, Description: fmt.Sprintf("%s: %s required", ErrInsufficientScope, scope)})
				return
			}

			observe(ReasonAllowed)
			logger.Debug("request authorized", "sub", claims.Subject)
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ReasonCode returns the machine-readable reason of a verification error.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientScope):
		return ReasonInsufficientScope
	case errors.Is(err, ErrMissingKeyID):
		return ReasonMissingKeyID
	case errors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, ErrExpiredOrWrongAudience):
		return ReasonExpiredOrWrongAudience
	default:
		return ReasonInvalidToken
	}
}

// Describe returns the human-readable cause sent to the caller. Key resolution
// details stay in the logs.
func Describe(err error) string {
	switch {
	case errors.Is(err, jwks.ErrKeyNotFound):
		return ErrInvalidSignature.Error() + ": unknown signing key"
	case errors.Is(err, jwks.ErrRateLimited),
		errors.Is(err, jwks.ErrFetch),
		errors.Is(err, jwks.ErrFetchTimeout):
		return ErrInvalidSignature.Error() + ": signing keys unavailable"
	default:
		return err.Error()
	}
}

func writeRejection(w http.ResponseWriter, status int, challenge string, body errorBody) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
