// Package metrics exposes the gateway's Prometheus collectors.
//
// A Metrics value satisfies the observer interfaces of the jwks, auth and
// tools packages, so wiring is a matter of passing it into their configs:
//
//	m, err := metrics.New()
//	cache, err := jwks.New(jwks.Config{URL: url, Observer: m})
//	gate := auth.Gate(auth.GateConfig{Verifier: v, Observer: m})
//	reg := tools.NewRegistry(tools.RegistryConfig{Observer: m})
//
// Collectors live on a private registry served by Handler.
package metrics
