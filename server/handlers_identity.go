package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-guard/auth"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/sso"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/rs/zerolog/log"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler checks email and password credentials and returns the
// identity together with an access token
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "malformed request body", http.StatusBadRequest)
			return
		}
		req.Email = users.NormalizeEmail(req.Email)
		if req.Email == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", "email and password are required", http.StatusBadRequest)
			return
		}

		user, err := s.repos.Users.GetByEmail(req.Email)
		if err != nil || !users.CheckPasswordHash(req.Password, user.PasswordHash) {
			log.Info().Str("email", req.Email).Msg("Rejected password login")
			writeJSONError(w, "invalid_credentials", interr.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
			return
		}
		if user.Blocked {
			writeJSONError(w, "access_denied", interr.ErrUserBlocked.Error(), http.StatusForbidden)
			return
		}

		identity, accessToken, ok := s.issue(w, r, user)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, auth.LoginResult{Identity: identity, AccessToken: accessToken})
	}
}

// SSOExchangeHandler resolves a single-use authorization code to the
// identity it was issued for
func (s *Server) SSOExchangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sso.ExchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "malformed request body", http.StatusBadRequest)
			return
		}
		if req.Code == "" {
			writeJSONError(w, "invalid_request", "code is required", http.StatusBadRequest)
			return
		}

		code, err := s.repos.Codes.Consume(req.Code, s.clock.Now())
		if err != nil {
			log.Info().Err(err).Str("provider", req.Provider).Msg("Rejected authorization code")
			writeJSONError(w, "invalid_grant", interr.ErrInvalidAuthorizationCode.Error(), http.StatusBadRequest)
			return
		}
		if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
			writeJSONError(w, "invalid_grant", interr.ErrInvalidRedirectURI.Error(), http.StatusBadRequest)
			return
		}

		user, err := s.repos.Users.GetByID(code.UserID)
		if err != nil {
			writeJSONError(w, "invalid_grant", interr.ErrUserNotFound.Error(), http.StatusBadRequest)
			return
		}
		if user.Blocked {
			writeJSONError(w, "access_denied", interr.ErrUserBlocked.Error(), http.StatusForbidden)
			return
		}

		identity, accessToken, ok := s.issue(w, r, user)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sso.ExchangeResult{Identity: identity, AccessToken: accessToken})
	}
}

// ValidateHandler returns the claims of the bearer token
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.Validate(bearerToken(r))
		if err != nil {
			writeJSONError(w, "invalid_token", err.Error(), http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

// LogoutHandler revokes the bearer token
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.tokens.Revoke(bearerToken(r)); err != nil {
			writeJSONError(w, "invalid_token", err.Error(), http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, user *users.User) (users.Identity, string, bool) {
	identity := user.Identity()
	accessToken, err := s.tokens.CreateAccessToken(identity)
	if err != nil {
		logError(r.Method, r.URL.Path, err)
		writeJSONError(w, "server_error", "could not issue token", http.StatusInternalServerError)
		return users.Identity{}, "", false
	}
	if err := s.repos.Users.SetLastLogin(user.Email); err != nil {
		log.Warn().Err(err).Str("user", user.ID).Msg("Failed to record last login")
	}
	log.Info().Str("user", identity.UserID).Str("path", r.URL.Path).Msg("Issued access token")
	return identity, accessToken, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an OAuth2 style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
