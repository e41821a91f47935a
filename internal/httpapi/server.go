package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repovault/internal/auth"
	"repovault/internal/core"
)

// Server is the REST surface over the backup service. All routes under
// /api except login require a bearer session issued by the auth gate.
type Server struct {
	gate      *auth.Gate
	store     core.StateStore
	ledger    core.Ledger
	downloads *core.DownloadService
	clock     core.Clock
	logger    core.Logger
}

// NewServer creates a Server with the provided dependencies.
func NewServer(gate *auth.Gate, store core.StateStore, ledger core.Ledger, downloads *core.DownloadService, clock core.Clock, logger core.Logger) *Server {
	return &Server{
		gate:      gate,
		store:     store,
		ledger:    ledger,
		downloads: downloads,
		clock:     clock,
		logger:    logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/auth/validate", s.handleValidate)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/events", s.handleEvents)

		r.Route("/repositories", func(r chi.Router) {
			r.Get("/", s.handleListRepositories)
			r.Route("/{repository}", func(r chi.Router) {
				r.Get("/", s.handleGetRepository)
				r.Get("/history", s.handleHistory)
				r.Get("/versions", s.handleVersions)
				r.Get("/downloads", s.handleRepositoryDownloads)
			})
		})

		r.Post("/download", s.handleRequestDownload)
		r.Get("/download/{id}", s.handleGetDownload)
	})
	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.logger.Info("http server listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
