// Package web provides the HTTP server exposing dataset previews and the admin
// ingestion trigger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nao1215/sheetpreview"
	"github.com/nao1215/sheetpreview/internal/config"
	"github.com/nao1215/sheetpreview/internal/web/middleware"
)

const (
	defaultAdminRatePerMinute = 6
	defaultRequestTimeout     = 30 * time.Second
	defaultIngestTimeout      = 10 * time.Minute
)

// Options configures a Server.
type Options struct {
	// DataRoot is the directory scanned by POST /admin/ingest-json.
	DataRoot string
	// AdminSecret must match X-Admin-Secret. Empty restricts admin routes to loopback clients.
	AdminSecret string
	// AdminRatePerMinute limits ingestion triggers across all clients.
	AdminRatePerMinute int
	// TrustedProxies are CIDRs whose forwarding headers are believed.
	TrustedProxies []string
	// RequestTimeout bounds preview requests.
	RequestTimeout time.Duration
	// IngestTimeout bounds one ingestion run.
	IngestTimeout time.Duration
	Logger        *slog.Logger
}

// OptionsFromConfig maps the application configuration onto server options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		DataRoot:           cfg.Ingest.Root,
		AdminSecret:        cfg.Admin.SharedSecret,
		AdminRatePerMinute: cfg.Admin.RatePerMinute,
		TrustedProxies:     cfg.Admin.TrustedProxies,
		RequestTimeout:     cfg.Server.RequestTimeout,
		IngestTimeout:      cfg.Ingest.Timeout,
		Logger:             logger,
	}
}

// Server is the HTTP server of the preview service.
type Server struct {
	store  *sheetpreview.Store
	opts   Options
	logger *slog.Logger
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server serving store.
func NewServer(store *sheetpreview.Store, opts Options) *Server {
	if opts.AdminRatePerMinute <= 0 {
		opts.AdminRatePerMinute = defaultAdminRatePerMinute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = defaultIngestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.AdminSecretHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.opts.RequestTimeout))
		r.Get("/datasets", s.handleListDatasets)
		r.Get("/datasets/{dataset}/sheets", s.handleListSheets)
		r.Get("/datasets/{dataset}/sheets/{sheet}/rows", s.handleRows)
		r.Get("/schemas/{table}", s.handleSchema)
	})

	// Exports stream for as long as the table takes to write.
	s.router.Get("/tables/{table}/export", s.handleExport)

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(s.opts.AdminSecret))
		r.Use(middleware.RateLimit(middleware.PerMinute(s.opts.AdminRatePerMinute)))
		r.Post("/ingest-json", s.handleIngest)
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on cfg.Addr() until ctx is canceled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.requestLogger(r).Error("json encode error", "error", err)
	}
}
