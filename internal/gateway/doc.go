// Package gateway assembles the matdevis server components.
//
// # Overview
//
// The gateway owns the HTTP server and everything behind it: the quote tool
// registry, the MCP endpoint, and, when authentication is enabled, the signing
// key cache, token verifier, and authorization gate.
//
// # HTTP Surface
//
//	POST /mcp                                  MCP JSON-RPC (gated when auth.enabled)
//	GET  /.well-known/oauth-authorization-server  issuer metadata (when auth.issuer is set)
//	GET  /health                               liveness, always "OK"
//	GET  /health/ready                         tools registered and signing keys reachable
//	GET  /metrics                              Prometheus (when metrics.enabled)
//
// Every route runs behind chi's RequestID, RealIP and Recoverer middleware and
// the CORS policy from cors.allowed_origins. Preflight requests are answered
// before the gate.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled, then drains for up to 5s
//
// Run fetches the key set once in the background so the first call is served
// from the cache.
package gateway
