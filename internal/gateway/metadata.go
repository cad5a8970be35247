// ABOUTME: OAuth discovery documents: authorization server and protected resource metadata
// ABOUTME: Advertises the issuer endpoints, supported scopes, PKCE method, and the /mcp resource

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
)

// authorizationServerMetadata is the discovery document clients fetch before
// starting the authorization code flow.
type authorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

func (g *Gateway) metadata() authorizationServerMetadata {
	a := g.config.Auth
	return authorizationServerMetadata{
		Issuer:                            a.Issuer,
		AuthorizationEndpoint:             a.AuthorizationEndpoint,
		TokenEndpoint:                     a.TokenEndpoint,
		JWKSURI:                           a.JWKSURL,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		ScopesSupported:                   []string{"openid", "profile", a.RequiredScope},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// protectedResourceMetadata (RFC 9728) tells clients which issuer guards /mcp.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (g *Gateway) resourceMetadata() protectedResourceMetadata {
	return protectedResourceMetadata{
		Resource:               strings.TrimSuffix(g.config.Server.BaseURL, "/") + "/mcp",
		AuthorizationServers:   []string{g.config.Auth.Issuer},
		ScopesSupported:        []string{g.config.Auth.RequiredScope},
		BearerMethodsSupported: []string{"header"},
	}
}

func (g *Gateway) handleAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	g.writeDiscovery(w, g.metadata())
}

func (g *Gateway) handleProtectedResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	g.writeDiscovery(w, g.resourceMetadata())
}

func (g *Gateway) writeDiscovery(w http.ResponseWriter, doc any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		g.logger.Warn("failed to encode discovery document", "error", err)
	}
}
