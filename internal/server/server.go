// Package server provides the HTTP API of the reel agent: run, retry,
// variation and render progress streamed over Server-Sent Events, and
// management of the run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/render"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/middleware"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server/ratelimit"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

// Runner executes and retries stage chains
type Runner interface {
	Run(ctx context.Context, in pipeline.Input, cb pipeline.ProgressCallback) (*pipeline.Run, error)
	Retry(ctx context.Context, parent pipeline.Run, from types.Stage, cb pipeline.ProgressCallback, opts ...pipeline.RetryOption) (*pipeline.Run, error)
}

// VariationRunner executes fan-out batches
type VariationRunner interface {
	Run(ctx context.Context, req variations.Request, cb func(variations.Event)) (*variations.Result, error)
}

// ShotRenderer renders the shots of a composition
type ShotRenderer interface {
	RenderShots(ctx context.Context, shots []types.Shot, onJob render.JobFunc) []types.RenderJob
}

// RenderCostRecorder adds render spend to a history entry
type RenderCostRecorder interface {
	AddRenderCost(ctx context.Context, id string, jobs []types.RenderJob) error
}

// ImageSource returns previously uploaded product photos
type ImageSource interface {
	GetProductImage(ctx context.Context, key string) ([]byte, string, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	RateLimit       *ratelimit.Config
}

// Deps are the collaborators behind the endpoints. Variations, Renderer,
// RenderCosts and Images may be nil; their endpoints then report the feature
// as unavailable.
type Deps struct {
	Runs        Runner
	Variations  VariationRunner
	Renderer    ShotRenderer
	RenderCosts RenderCostRecorder
	History     history.Store
	Images      ImageSource
	Checks      []ReadinessCheck
	Logger      *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg         Config
	deps        Deps
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	logger      *slog.Logger
	handler     http.Handler
}

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		validate:    validator.New(),
		logger:      logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		middleware.RequestLogger(s.logger),
		chimw.Recoverer,
		middleware.CORS,
		s.withRateLimit,
	)

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Post("/runs", s.handleRun)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Post("/retry", s.handleRetry)
		r.Post("/render", s.handleRender)
	})
	r.Post("/variations", s.handleVariations)

	r.Route("/history", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Post("/delete", s.handleDeleteHistoryBatch)
		r.Get("/{id}", s.handleGetHistory)
		r.Delete("/{id}", s.handleDeleteHistory)
		r.Put("/{id}/tags", s.handleSetTags)
		r.Put("/{id}/notes", s.handleSetNotes)
	})

	return r
}

// Serve listens on the configured port until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: generation streams run for minutes
	}

	eg.Go(func() error {
		s.logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down server")
		err := srv.Shutdown(shutdownCtx)
		s.rateLimiter.Stop()
		return err
	})

	return eg.Wait()
}

// Close releases background resources
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(middleware.ClientIP(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds())
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	middleware.Logger(r.Context()).Warn("rate limit exceeded", "path", r.URL.Path, "limit", info.Limit)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs every readiness check
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	s.jsonResponse(w, status, map[string]any{"status": state, "checks": checks})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail writes err with the status HTTPStatus assigns it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		middleware.Logger(r.Context()).Error("request failed", "error", err)
	}
	s.errorResponse(w, status, err.Error())
}
