package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/event"
)

// Server is the webhook trigger HTTP server.
type Server struct {
	config   config.TriggerConfig
	ingestor *Ingestor
	logger   *slog.Logger
	server   *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*config.TriggerEndpoint
}

// New creates a new trigger server instance.
func New(cfg config.TriggerConfig, ingestor *Ingestor, logger *slog.Logger) *Server {
	endpoints := make(map[string]*config.TriggerEndpoint)
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    cfg,
		ingestor:  ingestor,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start starts the trigger HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("trigger server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("trigger server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("trigger server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("trigger server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleDelivery)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("trigger request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// handleDelivery processes one webhook delivery: body limit, signature
// verification, payload parsing, and run creation.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(body)) > ep.MaxBodySize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if ep.Secret != "" {
		signature := r.Header.Get(ep.SignatureHeader)
		if err := verifyHMACSignature(body, signature, ep.Secret); err != nil {
			s.logger.Warn("signature verification failed", "path", r.URL.Path)
			s.writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		eventType = r.Header.Get("X-Slipway-Event")
	}

	ev, err := event.ParseWebhook(eventType, body)
	if err != nil {
		// Deliveries slipway does not understand (ping, star, ...) are
		// acknowledged without creating runs.
		s.logger.Debug("ignoring delivery", "event_type", eventType, "reason", err)
		s.writeJSON(w, http.StatusOK, TriggerResponse{Runs: []string{}})
		return
	}

	stamped, runIDs, err := s.ingestor.Ingest(r.Context(), ev, "webhook:"+r.URL.Path)
	if err != nil {
		s.logger.Error("event ingestion failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create runs")
		return
	}
	if runIDs == nil {
		runIDs = []string{}
	}

	s.writeJSON(w, http.StatusAccepted, TriggerResponse{EventID: stamped.EventID, Runs: runIDs})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
