package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
	"github.com/JakeFAU/iati-climate-dataset/internal/metrics"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultBuildTimeout = 30 * time.Minute
	readyTimeout        = 2 * time.Second
)

// Builder runs a single dataset build; *pipeline.Runner satisfies it.
type Builder interface {
	Run(ctx context.Context, publisherRef string) (pipeline.Run, error)
}

// Config controls authentication and per-route deadlines.
type Config struct {
	AuthEnabled  bool
	APIKey       string
	ReadTimeout  time.Duration
	BuildTimeout time.Duration
}

// Server wires HTTP handlers to the runner and run ledger.
type Server struct {
	router  chi.Router
	builder Builder
	runs    pipeline.RunStore
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(builder Builder, runs pipeline.RunStore, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = defaultBuildTimeout
	}
	metrics.Init()
	s := &Server{
		builder:  builder,
		runs:     runs,
		cfg:      cfg,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/datasets/{publisher_ref}", s.buildDataset)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.ReadTimeout))
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the run ledger answers a trivial query.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil || s.builder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.runs.ListRuns(ctx, pipeline.RunFilter{Limit: 1}); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) buildDataset(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "publisher_ref")
	if err := pipeline.ValidatePublisherRef(ref); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.acquire(ref) {
		s.writeError(w, http.StatusConflict, "a build for this publisher is already running")
		return
	}
	defer s.release(ref)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BuildTimeout)
	defer cancel()
	run, err := s.builder.Run(ctx, ref)
	if err != nil {
		status := buildErrorStatus(err)
		body := map[string]any{"error": err.Error()}
		if run.ID != "" {
			body["run"] = run
		}
		s.writeJSON(w, status, body)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{"run": run})
}

func (s *Server) acquire(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[ref]; busy {
		return false
	}
	s.inFlight[ref] = struct{}{}
	return true
}

func (s *Server) release(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, ref)
}

func buildErrorStatus(err error) int {
	var statusErr *pipeline.StatusError
	switch {
	case errors.Is(err, pipeline.ErrInvalidPublisherRef):
		return http.StatusBadRequest
	case errors.Is(err, dataset.ErrInsufficientMajority):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &statusErr),
		errors.Is(err, dataset.ErrMissingTitle),
		errors.Is(err, dataset.ErrMissingIdentifier):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := encodeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = encodeJSON(w, status, map[string]string{"error": msg})
}

func encodeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
