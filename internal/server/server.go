package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Carrene/dolphin/internal/auth"
	"github.com/Carrene/dolphin/internal/model"
	"github.com/Carrene/dolphin/internal/ratelimit"
	"github.com/Carrene/dolphin/internal/storage"
)

// Server is the Dolphin HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional (nil = rate limiting disabled).
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Provisioner  roomProvisioner
	Synchronizer membershipSync
	Ledger       activityLedger
	Logger       *slog.Logger

	// Optional dependencies.
	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	WebhookSecret       string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Provisioner:         cfg.Provisioner,
		Synchronizer:        cfg.Synchronizer,
		Ledger:              cfg.Ledger,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		WebhookSecret:       cfg.WebhookSecret,
	})

	if cfg.WebhookSecret == "" {
		cfg.Logger.Warn("no webhook secret configured, inbound webhook signatures are not verified")
	}

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", rl(http.HandlerFunc(h.HandleAuthToken)))

	// Member management (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/members", adminOnly(http.HandlerFunc(h.HandleCreateMember)))

	// Room-backed entities. The same handler set serves every kind; the kind
	// is bound at registration.
	anyMember := requireRole(model.RoleMember, model.RoleAdmin)
	for _, kind := range model.EntityKinds {
		base := "/v1/" + kind.Plural()
		mux.Handle("POST "+base, rl(anyMember(h.handleCreateEntity(kind))))
		mux.Handle("GET "+base+"/{id}", rl(anyMember(h.handleGetEntity(kind))))
		mux.Handle("PATCH "+base+"/{id}", rl(anyMember(h.handleUpdateEntity(kind))))
		mux.Handle("POST "+base+"/{id}/subscribe", rl(anyMember(h.handleSubscribe(kind))))
		mux.Handle("POST "+base+"/{id}/unsubscribe", rl(anyMember(h.handleUnsubscribe(kind))))
		mux.Handle("POST "+base+"/{id}/see", rl(anyMember(h.handleSee(kind))))
		mux.Handle("GET "+base+"/{id}/subscriptions", rl(anyMember(h.handleListSubscriptions(kind))))
	}

	// Inbound chat webhooks (HMAC-authenticated, not JWT).
	mux.Handle("POST /webhooks/sent", rl(http.HandlerFunc(h.HandleWebhookSent)))
	mux.Handle("POST /webhooks/mentioned", rl(http.HandlerFunc(h.HandleWebhookMentioned)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers for access in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
