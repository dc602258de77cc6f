// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and owns the lifetime of the backend client, the lease pool and the
// auth state manager.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → backend.New        (the one shared client: auth API + four tables)
//	  → pool.New           (leases over that client)
//	  → authstate.Manager  (per-session auth state, fed by backend events)
//	  → services, feed     (borrow a lease per call)
//	  → handlers           (HTTP only)
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/snippet-share/internal/auth"
	"github.com/sakif/snippet-share/internal/authstate"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/config"
	"github.com/sakif/snippet-share/internal/feed"
	"github.com/sakif/snippet-share/internal/handler"
	"github.com/sakif/snippet-share/internal/metrics"
	"github.com/sakif/snippet-share/internal/middleware"
	"github.com/sakif/snippet-share/internal/pool"
	"github.com/sakif/snippet-share/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the backend client (and with it the database), the pool
// and the auth state manager. Start closes all three on the way out, in
// reverse order of creation.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	client *backend.Client
	pool   *pool.Pool[backend.Service]
	states *authstate.Manager
	oauth  auth.OAuthProvider
}

// New creates a Server from cfg. Nothing listens until Start.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.Backend.URL); cfg.Backend.URL != ":memory:" && dir != "." {
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// GitHub sign-in is optional; without credentials the login route
	// redirects back to /signin with an error.
	var oauth auth.OAuthProvider
	if cfg.Auth.GitHub.Enabled() {
		oauth = auth.NewGitHubProvider(
			cfg.Auth.GitHub.ClientID,
			cfg.Auth.GitHub.ClientSecret,
			cfg.Auth.GitHub.CallbackURL,
		)
	} else {
		logger.Warn("GitHub OAuth not configured, /auth/github/login is disabled")
	}

	client, err := backend.New(backend.Config{
		URL:                 cfg.Backend.URL,
		APIKey:              cfg.Backend.APIKey,
		AccessTTL:           cfg.Backend.AccessTTL,
		RefreshTTL:          cfg.Backend.RefreshTTL,
		BcryptCost:          cfg.Backend.BcryptCost,
		AllowedEmailDomains: cfg.Auth.AllowedEmailDomains,
		Retry: backend.RetryPolicy{
			Attempts:  cfg.Backend.RetryAttempts,
			BaseDelay: cfg.Backend.RetryDelay,
		},
	}, oauth, logger)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}

	p := pool.New[backend.Service](client, pool.Config{
		Name:           "backend",
		MaxActive:      cfg.Pool.MaxActive,
		MinIdle:        cfg.Pool.MinIdle,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	}, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		client: client,
		pool:   p,
		states: authstate.NewManager(p, logger),
		oauth:  oauth,
	}

	if err := s.setupRoutes(); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /                          → Feed page (HTML)
//	GET    /signin, /register         → Auth pages (HTML)
//	GET    /profile                   → Profile page (HTML, redirects when signed out)
//	GET    /auth/github/login         → Start GitHub OAuth
//	GET    /auth/callback             → Finish OAuth, set cookies, redirect
//	*      /api/auth/*                → Account flows (credential endpoints rate limited)
//	GET    /api/feed                  → Feed with tallies and comment counts
//	GET    /api/feed/live             → Websocket live search
//	*      /api/snippets/*            → Snippet CRUD, votes, comments
//	DELETE /api/comments/{id}         → Delete own comment
//	GET    /api/pool/stats            → Pool counters
//	GET    /metrics                   → Prometheus
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info and records metrics
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	cfg := s.config
	cookies := handler.CookieConfig{Secure: cfg.HTTP.SecureCookies}
	tokens := s.client.Tokens()

	// Services and feed components each borrow a lease per backend call.
	accounts := service.NewAccountService(s.pool, cfg.Auth.AllowedEmailDomains, s.logger)
	snippets := service.NewSnippetService(s.pool, s.logger)
	comments := service.NewCommentService(s.pool, s.logger)
	aggregator := feed.NewAggregator(s.pool, cfg.Feed.FetchTimeout, s.logger)
	voter := feed.NewVoter(s.pool, s.logger)

	authHandler := handler.NewAuthHandler(accounts, s.states, s.oauth, cookies, s.logger)
	snippetHandler := handler.NewSnippetHandler(snippets, comments, voter, s.states, s.logger)
	feedHandler := handler.NewFeedHandler(aggregator, s.states, cfg.Feed.SearchDebounce, s.logger)
	pageHandler, err := handler.NewPageHandler(s.states, s.oauth != nil, s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}

	limiter := middleware.NewRateLimiter(cfg.Auth.RateLimit, cfg.Auth.RateBurst, s.logger)

	// === Pages ===
	// OptionalAuth attaches the session when there is one, so templates can
	// show who is signed in. /profile does its own redirect to /signin.
	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/", pageHandler.HandleIndex)
		r.Get("/signin", pageHandler.HandleSignIn)
		r.Get("/register", pageHandler.HandleRegister)
		r.Get("/profile", pageHandler.HandleProfile)
	})

	// === OAuth ===
	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/callback", authHandler.HandleCallback)

	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/check", authHandler.HandleCheck)
			r.Post("/check-email", authHandler.HandleCheckEmail)
			r.Post("/signout", authHandler.HandleSignOut)

			// Endpoints that take a credential are rate limited per client.
			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/register", authHandler.HandleRegister)
				r.Post("/signin", authHandler.HandleSignIn)
				r.Post("/refresh", authHandler.HandleRefresh)
				r.With(auth.RequireAuth(tokens)).Post("/password", authHandler.HandleChangePassword)
			})
		})

		r.Get("/pool/stats", handler.HandlePoolStats(s.pool))

		// Public reads: anonymous readers are welcome, signed-in users
		// additionally see their own votes.
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/feed", feedHandler.HandleFeed)
			r.Get("/feed/live", feedHandler.HandleLive)
			r.Get("/snippets", snippetHandler.HandleList)
			r.Get("/snippets/{id}", snippetHandler.HandleGetByID)
			r.Get("/snippets/{id}/comments", snippetHandler.HandleListComments)
		})

		// Writes need a valid token.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/profile", authHandler.HandleProfile)
			r.Put("/profile", authHandler.HandleUpdateProfile)
			r.Post("/snippets", snippetHandler.HandleCreate)
			r.Put("/snippets/{id}", snippetHandler.HandleUpdate)
			r.Delete("/snippets/{id}", snippetHandler.HandleDelete)
			r.Post("/snippets/{id}/vote", snippetHandler.HandleVote)
			r.Post("/snippets/{id}/comments", snippetHandler.HandleAddComment)
			r.Delete("/comments/{id}", snippetHandler.HandleDeleteComment)
		})
	})

	return nil
}

// Start starts the auth state manager and the HTTP server, and handles
// graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop listening for auth events, close the pool, close the database
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	if err := s.states.Start(ctx); err != nil {
		return fmt.Errorf("starting auth state manager: %w", err)
	}

	// WriteTimeout is left at zero: /api/feed/live holds its connection open
	// for as long as the page is.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.HTTP.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.HTTP.Port)),
			slog.String("database", s.config.Backend.URL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) close() {
	s.states.Close()
	s.pool.Close()
	if err := s.client.Close(); err != nil {
		s.logger.Error("closing backend", slog.String("error", err.Error()))
	}
}
