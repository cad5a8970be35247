// Package auth admits calls to the gateway.
//
// # Token Verification
//
// A Verifier checks an "Authorization: Bearer <token>" header value. Tokens must
// be RS256 JWTs whose header names a key id published by the identity provider;
// keys are resolved through a jwks.Cache. Expiry is required, and nbf, iat,
// issuer and audience are checked with a small clock skew leeway.
//
// Every failure is one of:
//
//   - ErrInvalidToken: header missing or malformed, token undecodable
//   - ErrMissingKeyID: no kid in the token header
//   - ErrInvalidSignature: wrong algorithm, key not resolvable, bad signature
//   - ErrExpiredOrWrongAudience: temporal, issuer or audience mismatch
//
// # Gate
//
// Gate wraps the transport handler. It answers 401 with one of the reason codes
// above, or 403 insufficient_scope when the scope claim lacks the required
// scope. Admitted requests carry their claims:
//
//	claims := auth.FromContext(r.Context())
//
// When authentication is disabled the gate is not mounted and FromContext
// returns nil.
package auth
