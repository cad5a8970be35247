// Package config handles configuration loading for the matdevis gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
// Unset fields receive defaults, then the result is validated.
//
// # Configuration File
//
// The CLI resolves the path in order:
//
//  1. The --config flag
//  2. The MATDEVIS_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/matdevis/gateway.yaml (or ~/.config/matdevis/gateway.yaml)
//
// Without a file the gateway starts from Default(), with authentication off.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  audience: "${MATDEVIS_AUDIENCE}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://matdevis.example.com"
//
//	cors:
//	  allowed_origins: ["https://chatgpt.com"]
//
//	auth:
//	  enabled: true
//	  issuer: "https://tenant.eu.auth0.com/"
//	  audience: "https://matdevis.example.com/mcp"
//	  required_scope: "matdevis:devis"
//	  leeway: "30s"
//	  # jwks_url, authorization_endpoint and token_endpoint derive from the issuer
//
//	jwks:
//	  cache_ttl: "1h"
//	  fetch_timeout: "5s"
//	  rate_limit:
//	    requests: 10
//	    per: "1m"
//	    wait: false
//	    backend: "memory"        # memory, redis
//	    redis_addr: "127.0.0.1:6379"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
//	presentation:
//	  format: "markdown"  # markdown, html
//	  timezone: "Europe/Paris"
//
// Durations use Go's time.ParseDuration syntax.
package config
