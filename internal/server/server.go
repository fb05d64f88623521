// Package server is the thin HTTP transport over the research pipeline:
// it translates requests into calls against the core packages and core
// error kinds into HTTP statuses, and holds no pipeline logic itself.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/internal/registry"
	"github.com/aristath/fishbro/internal/runner"
	"github.com/aristath/fishbro/internal/store"
)

// Config wires the server's collaborators; the caller (cmd/researchd)
// assembles every one of these before building a Server.
type Config struct {
	Log zerolog.Logger
	Port int
	DevMode bool

	OutputsRoot         string
	ArtifactsRoot       string
	ExportsRoot         string
	PortfolioRoot       string
	SnapshotsRoot       string
	DatasetRegistryRoot string

	Runner     *runner.Runner
	Seasons    *governance.SeasonStore
	Batches    *governance.BatchStore
	Policy     *governance.Engine
	Strategies *registry.Strategies
	Datasets   *registry.Datasets
	Catalog    *store.Catalog
}

// Server is the chi-backed HTTP transport.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New builds a Server with every route registered.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/jobs", func(r chi.Router) { s.setupJobsRoutes(r) })
	s.router.Route("/seasons", func(r chi.Router) { s.setupSeasonsRoutes(r) })
	s.router.Route("/exports", func(r chi.Router) { s.setupExportsRoutes(r) })
	s.router.Route("/portfolio", func(r chi.Router) { s.setupPortfolioRoutes(r) })
	s.router.Route("/datasets", func(r chi.Router) { s.setupDatasetsRoutes(r) })
	s.router.Route("/meta", func(r chi.Router) { s.setupMetaRoutes(r) })
}

// recordDecision mirrors a policy verdict into the catalog's append-only
// ledger. The catalog is a derived index, so a logging failure here
// never blocks the response the verdict already produced.
func (s *Server) recordDecision(ctx context.Context, d governance.Decision) {
	if s.cfg.Catalog == nil {
		return
	}
	row := store.PolicyDecisionRow{
		Action: d.Action, Season: d.Season, Allowed: d.Allowed,
		Reason: d.Reason, Risk: string(d.Risk), DecidedAt: time.Now(),
	}
	if err := s.cfg.Catalog.RecordDecision(ctx, row); err != nil {
		s.log.Warn().Err(err).Str("action", d.Action).Msg("failed to record policy decision")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins serving.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
