package api

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

	"github.com/mattjoyce/studiobridge/internal/dispatch"
	"github.com/mattjoyce/studiobridge/internal/events"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/protocol"
)

// Bridge is the dispatcher surface the plugin endpoints need.
type Bridge interface {
	Pickup(ctx context.Context) (protocol.ToolCall, error)
	Submit(res protocol.Result) (dispatch.Delivery, error)
	Stats() dispatch.Stats
}

// Prompter serves /prompt and /run.
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
	Run(ctx context.Context, command string) (string, error)
}

// HistoryReader lists recent requests for /history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen       string
	MaxBodyBytes int64
	// Version is reported by /healthz.
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Bridge
	prompter  Prompter
	history   HistoryReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history may be nil when history
// recording is disabled.
func New(config Config, bridge Bridge, prompter Prompter, hist HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		bridge:    bridge,
		prompter:  prompter,
		history:   hist,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: /prompt and /run wait for Studio without a bound.
		WriteTimeout: 0,
		IdleTimeout:  90 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Studio plugin.
	r.Get("/request", s.handleRequest)
	r.Post("/response", s.handleResponse)

	// Callers.
	r.Post("/prompt", s.handlePrompt)
	r.Post("/run", s.handleRun)

	// Ops.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/history", s.handleHistory)
	r.Get("/events", s.handleEvents)
	r.Get("/openapi.json", s.handleOpenAPI)

	return r
}

// loggingMiddleware logs HTTP requests. Empty long polls are logged at debug
// so an idle plugin does not flood the log.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/request" && ww.Status() == http.StatusAccepted {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
