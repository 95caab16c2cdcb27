package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/processor"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

// ReportHandler processes end-of-call reports.
type ReportHandler interface {
	HandleCallReport(ctx context.Context, report processor.Report) (*processor.Result, error)
}

// RunReader looks up stored runs.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
}

// Deps are the collaborators behind the routes. Runs and Metrics are
// optional; their routes are not mounted when nil.
type Deps struct {
	Processor     ReportHandler
	Extractor     *extractor.Extractor
	Runs          RunReader
	Metrics       *metrics.Metrics
	WebhookSecret string
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/quill/status", s.status)
	router.Post("/api/v1/extract", s.extract)
	if deps.Runs != nil {
		router.Get("/api/v1/runs/{id}", s.getRun)
	}
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	router.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(WebhookSecretMiddleware(deps.WebhookSecret))
		r.Post("/vapi", s.vapiWebhook)
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  "quill",
		"fields": s.deps.Extractor.Catalog().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
