// Package devserver is a development stand-in for the dashboard API. It
// issues and validates tokens so the console can be exercised end to end; it
// is not a production authentication service.
package devserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qazna.org/console/internal/config"
	"qazna.org/console/internal/identity"
	"qazna.org/console/internal/obs"
)

const maxBodyBytes = 1 << 20

// Server is the development dashboard API.
type Server struct {
	tokens  *Tokens
	users   *Directory
	roles   identity.RoleMap
	issuer  string
	limit   float64
	burst   int
	version string
	cost    int
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithBcryptCost sets the cost used to hash seed passwords.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

// WithClock overrides the clock used for TOTP verification.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a server from cfg. roles derives the permissions reported by
// /auth/me.
func New(cfg config.DevServer, roles identity.RoleMap, version string, opts ...Option) (*Server, error) {
	tokens, err := NewTokens(cfg.Secret, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = identity.DefaultRoleMap
	}
	s := &Server{
		tokens:  tokens,
		roles:   roles,
		issuer:  cfg.Issuer,
		limit:   cfg.RateLimit,
		burst:   cfg.RateBurst,
		version: version,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.users, err = NewDirectory(cfg.Users, s.cost)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Tokens exposes the token service.
func (s *Server) Tokens() *Tokens { return s.tokens }

// Users exposes the user directory.
func (s *Server) Users() *Directory { return s.users }

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(RateLimit(s.limit, s.burst))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", obs.Handler())
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Get("/auth/me", s.handleMe)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/auth/totp/setup", s.handleTOTPSetup)
		r.Post("/auth/totp/verify", s.handleTOTPVerify)
		r.Get("/organizations/basic", s.handleOrganizations)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return obs.Instrument(r)
}
