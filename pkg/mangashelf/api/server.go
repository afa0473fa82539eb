// Package api exposes the upload workflow and the catalog listings over
// HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
	"github.com/tendant/mangashelf/pkg/mangashelf/upload"
)

// Server wires the HTTP handlers
type Server struct {
	catalog        *catalog.Catalog
	uploads        *upload.Engine
	auth           *jwtauth.JWTAuth
	logger         *slog.Logger
	maxUploadBytes int64
}

// Option configures a Server
type Option func(*Server)

// WithTokenAuth sets the verifier for bearer tokens. Without it every
// request is anonymous.
func WithTokenAuth(auth *jwtauth.JWTAuth) Option {
	return func(s *Server) {
		s.auth = auth
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxUploadBytes caps the body of a file upload request
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// New creates a server
func New(cat *catalog.Catalog, uploads *upload.Engine, opts ...Option) *Server {
	s := &Server{
		catalog:        cat,
		uploads:        uploads,
		logger:         slog.Default(),
		maxUploadBytes: upload.DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the root handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(jwtauth.Verifier(s.auth))
		}
		r.Use(PrincipalMiddleware)

		if s.auth != nil {
			r.Post("/auth/login", s.Login)
		}
		r.Get("/media/*", s.Media)
		r.Mount("/upload", s.uploadRoutes())
		r.Mount("/manga", s.mangaRoutes())
		r.Mount("/chapter", s.chapterRoutes())
		r.Mount("/comment", s.commentRoutes())
		r.Mount("/user", s.userRoutes())
		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)
	})
	return r
}

// Health reports liveness
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
