// ABOUTME: Gateway orchestrator that assembles the quote tools, MCP endpoint, and auth gate
// ABOUTME: Owns the HTTP server lifecycle, health endpoints, and the signing key cache

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	rdb "github.com/redis/go-redis/v9"

	"github.com/2389/matdevis-gateway/internal/auth"
	"github.com/2389/matdevis-gateway/internal/compose"
	"github.com/2389/matdevis-gateway/internal/config"
	"github.com/2389/matdevis-gateway/internal/jwks"
	"github.com/2389/matdevis-gateway/internal/mcp"
	"github.com/2389/matdevis-gateway/internal/metrics"
	"github.com/2389/matdevis-gateway/internal/quote"
	"github.com/2389/matdevis-gateway/internal/tools"
)

// Version is reported as serverInfo.version on initialize.
var Version = "1.0.0"

// readyProbeTimeout bounds the key set fetch a readiness probe may trigger.
const readyProbeTimeout = 2 * time.Second

// Gateway orchestrates the matdevis server components.
type Gateway struct {
	config     *config.Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	// registry holds the quote tools served over MCP
	registry *tools.Registry

	// keys resolves signing keys; nil when auth is disabled
	keys *jwks.Cache

	// redis backs the shared fetch limiter; nil for the memory backend
	redis *rdb.Client

	// metrics is nil when metrics are disabled
	metrics *metrics.Metrics
}

// New creates a gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		logger: logger,
	}

	var (
		keyObserver  jwks.Observer
		gateObserver auth.GateObserver
		toolObserver tools.Observer
	)
	if cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		gw.metrics = m
		keyObserver, gateObserver, toolObserver = m, m, m
	}

	registry, err := buildRegistry(cfg, logger, toolObserver)
	if err != nil {
		return nil, err
	}
	gw.registry = registry

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry: registry,
		Logger:   logger.With("component", "mcp"),
		Version:  Version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	var gate func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		gate, err = gw.buildGate(keyObserver, gateObserver)
		if err != nil {
			gw.closeOptionalComponents()
			return nil, err
		}
	} else {
		logger.Warn("authentication disabled, /mcp is open")
	}

	gw.handler = gw.routes(mcpServer, gate)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildRegistry registers the quote tools with a composer for the configured format.
func buildRegistry(cfg *config.Config, logger *slog.Logger, observer tools.Observer) (*tools.Registry, error) {
	loc, err := time.LoadLocation(cfg.Presentation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	composer, err := compose.New(compose.Format(cfg.Presentation.Format), loc, logger.With("component", "compose"))
	if err != nil {
		return nil, fmt.Errorf("creating composer: %w", err)
	}

	quoteTools, err := tools.QuoteTools(tools.Deps{
		Engine:   quote.NewEngine(time.Now),
		Composer: composer,
	})
	if err != nil {
		return nil, fmt.Errorf("building quote tools: %w", err)
	}

	registry := tools.NewRegistry(tools.RegistryConfig{
		Logger:      logger.With("component", "tools"),
		Observer:    observer,
		FailureText: composer.Failure,
	})
	if err := registry.Register(quoteTools...); err != nil {
		return nil, fmt.Errorf("registering quote tools: %w", err)
	}
	return registry, nil
}

// buildGate wires the fetch limiter, key cache, and verifier behind auth.Gate.
func (g *Gateway) buildGate(keyObserver jwks.Observer, gateObserver auth.GateObserver) (func(http.Handler) http.Handler, error) {
	cfg := g.config

	var limiter jwks.Limiter
	rl := cfg.JWKS.RateLimit
	switch rl.Backend {
	case config.BackendRedis:
		g.redis = rdb.NewClient(&rdb.Options{Addr: rl.RedisAddr})
		limiter = jwks.NewRedisLimiter(g.redis, rl.RedisPrefix, rl.Requests, rl.Per)
	default:
		limiter = jwks.NewTokenBucket(rl.Requests, rl.Per)
	}

	keys, err := jwks.New(jwks.Config{
		URL:          cfg.Auth.JWKSURL,
		HTTPClient:   &http.Client{Timeout: cfg.JWKS.FetchTimeout},
		TTL:          cfg.JWKS.CacheTTL,
		FetchTimeout: cfg.JWKS.FetchTimeout,
		Limiter:      limiter,
		WaitOnLimit:  rl.Wait,
		Logger:       g.logger.With("component", "jwks"),
		Observer:     keyObserver,
	})
	if err != nil {
		return nil, fmt.Errorf("creating key cache: %w", err)
	}
	g.keys = keys

	if g.metrics != nil {
		if err := g.metrics.RegisterKeyCount(keys.Len); err != nil {
			return nil, fmt.Errorf("registering key count: %w", err)
		}
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Keys:     keys,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	g.logger.Info("authentication enabled",
		"issuer", cfg.Auth.Issuer,
		"audience", cfg.Auth.Audience,
		"required_scope", cfg.Auth.RequiredScope,
		"jwks_url", cfg.Auth.JWKSURL,
		"rate_limit_backend", rl.Backend,
	)

	return auth.Gate(auth.GateConfig{
		Verifier:      verifier,
		RequiredScope: cfg.Auth.RequiredScope,
		Logger:        g.logger.With("component", "auth"),
		Observer:      gateObserver,
	}), nil
}

// routes builds the HTTP surface. The gate, when present, only covers /mcp.
func (g *Gateway) routes(mcpServer http.Handler, gate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if g.metrics != nil {
		r.Use(g.metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.config.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id", "WWW-Authenticate"},
		MaxAge:         300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Auth.Issuer != "" {
		r.Get("/.well-known/oauth-authorization-server", g.handleAuthorizationServerMetadata)
		if g.config.Server.BaseURL != "" {
			r.Get("/.well-known/oauth-protected-resource", g.handleProtectedResourceMetadata)
		}
	}
	if g.metrics != nil {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if gate != nil {
			r.Use(gate)
		}
		r.Handle("/mcp", mcpServer)
		r.Handle("/mcp/", mcpServer)
	})

	return r
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// warmKeys fetches the key set once at startup so the first request hits the cache.
func (g *Gateway) warmKeys(ctx context.Context) {
	if g.keys == nil {
		return
	}
	go func() {
		if err := g.keys.Warm(ctx); err != nil {
			g.logger.Warn("initial signing key fetch failed", "error", err)
		}
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	g.warmKeys(ctx)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes components that may be nil.
func (g *Gateway) closeOptionalComponents() []error {
	var errs []error
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
		g.redis = nil
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = append(errs, g.closeOptionalComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once tools are registered and, with auth on,
// signing keys are cached or can be fetched.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	count := len(g.registry.List())
	if count == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}

	if g.keys != nil && g.keys.Len() == 0 {
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()
		if err := g.keys.Warm(ctx); err != nil {
			g.logger.Warn("readiness: signing keys unavailable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("signing keys unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", count)
}
