// Package api exposes the administrative HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/metrics"
	"github.com/visawatch/visawatch/internal/monitor"
)

// PluginAdmin is the registry surface the admin API needs.
type PluginAdmin interface {
	Stats() monitor.RegistryStats
	Descriptor(countryCode string) (monitor.PluginDescriptor, bool)
	TestConnection(ctx context.Context, countryCode string) bool
	TestAllConnections(ctx context.Context) map[string]bool
	Reload(countryCode string) bool
	ReloadAll() bool
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the registry and a poller. Manual polls
// surface monitor.ErrPollInFlight as 409 so callers can retry later.
type Server struct {
	router   chi.Router
	registry PluginAdmin
	poller   monitor.Poller
	db       Pinger
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. db may be nil when
// running on the in-memory store.
func NewServer(registry PluginAdmin, poller monitor.Poller, db Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		poller:   poller,
		db:       db,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.listPlugins)
			r.Get("/test", s.testAllPlugins)
			r.Post("/reload", s.reloadAllPlugins)
			r.Route("/{country}", func(r chi.Router) {
				r.Get("/", s.getPlugin)
				r.Get("/test", s.testPlugin)
				r.Post("/reload", s.reloadPlugin)
			})
		})
		r.Get("/stats", s.stats)
		r.Post("/entities/{id}/poll", s.pollEntity)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats().Plugins)
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	country := chi.URLParam(r, "country")
	desc, ok := s.registry.Descriptor(country)
	if !ok {
		writeError(w, http.StatusNotFound, "unsupported country")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) testPlugin(w http.ResponseWriter, r *http.Request) {
	country := chi.URLParam(r, "country")
	if _, ok := s.registry.Descriptor(country); !ok {
		writeError(w, http.StatusNotFound, "unsupported country")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reachable": s.registry.TestConnection(r.Context(), country)})
}

func (s *Server) testAllPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.TestAllConnections(r.Context()))
}

func (s *Server) reloadPlugin(w http.ResponseWriter, r *http.Request) {
	country := chi.URLParam(r, "country")
	if !s.registry.Reload(country) {
		writeError(w, http.StatusNotFound, "unsupported country")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) reloadAllPlugins(w http.ResponseWriter, _ *http.Request) {
	if !s.registry.ReloadAll() {
		writeError(w, http.StatusInternalServerError, "one or more plugins failed to reload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

func (s *Server) pollEntity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}
	if err := s.poller.Poll(r.Context(), id); err != nil {
		if errors.Is(err, monitor.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		if errors.Is(err, monitor.ErrPollInFlight) {
			writeError(w, http.StatusConflict, "poll already in flight")
			return
		}
		s.logger.Error("manual poll failed", zap.Int64("entity_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": id, "status": "polled"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
