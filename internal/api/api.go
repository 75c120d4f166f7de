// Package api exposes the practice over HTTP.
//
// It serves the JSON gateway contract, session inspection for operators,
// the Twilio webhook, a browser chat over WebSocket and a health endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/BTreeMap/HealBot/internal/models"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHealthTimeout   = 10 * time.Second
	RequestIDHeader        = "X-Request-ID"
)

// Practice is the state machine surface served over HTTP.
type Practice interface {
	Handle(ctx context.Context, ev models.Event) models.Outcome
	Inspect(ctx context.Context, userID string) (*models.Session, error)
	Reset(ctx context.Context, userID string) error
}

// HealthChecker reports whether the reflection engine is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Pinger reports whether the session store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	AllowedOrigin string
	TwilioWebhook http.HandlerFunc
	Engine        HealthChecker
	Store         Pinger
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigin restricts WebSocket origins; "*" or empty allows any.
func WithAllowedOrigin(origin string) Option {
	return func(o *Opts) { o.AllowedOrigin = origin }
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithEngineHealth includes the engine in /health.
func WithEngineHealth(h HealthChecker) Option {
	return func(o *Opts) { o.Engine = h }
}

// WithStorePing includes the store in /health.
func WithStorePing(p Pinger) Option {
	return func(o *Opts) { o.Store = p }
}

// Server serves the practice over HTTP.
type Server struct {
	practice Practice
	cfg      Opts
	router   chi.Router
}

// NewServer creates a Server around a practice machine.
func NewServer(practice Practice, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{practice: practice, cfg: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.eventsHandler)
		r.Get("/sessions/{userID}", s.getSessionHandler)
		r.Delete("/sessions/{userID}", s.deleteSessionHandler)
	})
	r.Get("/ws", s.wsHandler)
	if s.cfg.TwilioWebhook != nil {
		r.Post("/twilio/webhook", s.cfg.TwilioWebhook)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HealBot API listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestID tags every request with a UUID, reusing a client-supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
