// Package server provides the HTTP server and routing for the tag
// explorer API.
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

	"github.com/simonxinpan/Tag-Explorer/internal/config"
)

// Server is the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	system   *SystemHandlers
}

// New creates the HTTP server and mounts all routes
func New(cfg *config.Config, handlers *Handlers, system *SystemHandlers, log zerolog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      log.With().Str("component", "server").Logger(),
		handlers: handlers,
		system:   system,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Minute, // Refresh runs stream no progress; the response waits for the run
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// Read-only surface, no auth
		r.Get("/health", s.handlers.HandleHealth)
		r.Get("/tags", s.handlers.HandleListTags)
		r.Get("/tags/{name}/stocks", s.handlers.HandleStocksByTag)
		r.Get("/stocks/{ticker}/tags", s.handlers.HandleTagsForStock)
		r.Get("/system/status", s.system.HandleStatus)

		// Write-triggering surface behind the shared bearer token.
		// Refresh runs can take minutes; no per-request timeout here.
		r.Group(func(r chi.Router) {
			r.Use(s.handlers.RequireToken)
			r.Get("/refresh/standard", s.handlers.HandleRefreshStandard)
			r.Get("/refresh/batch", s.handlers.HandleRefreshBatch)
			r.Get("/refresh/tags", s.handlers.HandleRefreshTags)
			r.Post("/system/backup", s.system.HandleBackup)
		})
	})
}

// loggingMiddleware logs each request with its status and duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

// Router returns the chi router, used by handler tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
