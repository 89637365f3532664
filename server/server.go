// Package server is the trusted identity backend the session core talks to:
// it checks passwords, exchanges SSO authorization codes for identities and
// acts as a minimal OIDC provider for local development.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-guard/clients"
	fakeclientrepo "github.com/jrsteele09/go-session-guard/clients/fakerepo"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/internal/config"
	"github.com/jrsteele09/go-session-guard/server/authflowrepo"
	"github.com/jrsteele09/go-session-guard/token"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Repos groups the storage the server needs
type Repos struct {
	Users   users.UserRepo
	Codes   authflowrepo.Repo
	Clients clients.Repo // Registered from ALLOWED_CLIENT_IDS when nil
}

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config
	repos  Repos
	tokens *token.Manager
	clock  clock.Clock
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithTokenManager(m *token.Manager) Option {
	return func(s *Server) {
		s.tokens = m
	}
}

func New(cfg config.Config, repos Repos, opts ...Option) (*Server, error) {
	if repos.Users == nil {
		return nil, errors.New("[Server New] a user repository is required")
	}
	if repos.Codes == nil {
		repos.Codes = authflowrepo.NewInMemoryRepo()
	}
	if repos.Clients == nil {
		registered, err := clientsFromConfig(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "[Server New]")
		}
		repos.Clients = registered
	}

	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
		repos:  repos,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		signer, err := token.NewHMACSigner(cfg.GetJWTSecret())
		if err != nil {
			return nil, errors.Wrap(err, "[Server New]")
		}
		s.tokens = token.NewManager(
			signer,
			token.WithTokenExpiry(cfg.GetAccessTokenExpiry()),
			token.WithClock(s.clock),
		)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func clientsFromConfig(cfg config.ServerConfig) (clients.Repo, error) {
	repo := fakeclientrepo.NewFakeClientRepo()
	for _, id := range cfg.GetAllowedClientIDs() {
		err := repo.Upsert(&clients.Client{
			ID:           id,
			Description:  "registered from configuration",
			RedirectURIs: cfg.GetAllowedRedirectURIs(),
			Scopes:       []string{"openid", "email", "profile"},
		})
		if err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// SeedUsers upserts the users described by the SEED_USERS setting
func (s *Server) SeedUsers() error {
	seeded, err := users.ParseSeedUsers(s.config.GetSeedUsers())
	if err != nil {
		return errors.Wrap(err, "[SeedUsers]")
	}
	for _, u := range seeded {
		if existing, err := s.repos.Users.GetByEmail(u.Email); err == nil {
			u.ID = existing.ID
		}
		if err := s.repos.Users.Upsert(u); err != nil {
			return errors.Wrapf(err, "[SeedUsers] upsert %s", u.Email)
		}
		log.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("Seeded user")
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%s] %s", colouredMethod(method), path)
}

func logError(method, path string, err error) {
	log.Error().Err(err).Msgf("[%s] %s", colouredMethod(method), path)
}

func colouredMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + resetColor
	}
	return gray + paddedMethod + resetColor
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// issuerURL is the base URL the request was addressed to
func issuerURL(r *http.Request) string {
	return getScheme(r) + "://" + r.Host
}
