package server

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-session-guard/server/authflowrepo"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/rs/zerolog/log"
)

// WellKnownOpenIDConfig serves enough of the discovery document for an OIDC
// client to find the development authorize endpoint
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := issuerURL(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + RouteDevAuthorize,
			"token_endpoint":                        issuer + RouteAuthSSO,
			"response_types_supported":              []string{"code"},
			"response_modes_supported":              []string{"query"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"HS256"},
			"scopes_supported":                      []string{"openid", "email", "profile"},
		})
	}
}

// Authorize is a development stand-in for a provider's consent screen. The
// user named by login_hint is signed in without a prompt and the browser is
// sent back to redirect_uri with a single-use code and the caller's state.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clientID := q.Get("client_id")
		redirectURI := q.Get("redirect_uri")
		state := q.Get("state")

		client, err := s.repos.Clients.Get(clientID)
		if err != nil {
			writeJSONError(w, "invalid_client", "unknown client_id", http.StatusBadRequest)
			return
		}
		callback, err := url.Parse(redirectURI)
		if err != nil || (callback.Scheme != "http" && callback.Scheme != "https") || callback.Host == "" {
			writeJSONError(w, "invalid_request", "redirect_uri must be an absolute http(s) URL", http.StatusBadRequest)
			return
		}
		if !client.AllowsRedirect(redirectURI) {
			writeJSONError(w, "invalid_request", "redirect_uri is not registered for this client", http.StatusBadRequest)
			return
		}
		if state == "" {
			writeJSONError(w, "invalid_request", "state is required", http.StatusBadRequest)
			return
		}

		if rt := q.Get("response_type"); rt != "" && rt != "code" {
			redirectWithParams(w, r, callback, url.Values{"error": {"unsupported_response_type"}, "state": {state}})
			return
		}

		if err := client.ValidateScopes(q.Get("scope")); err != nil {
			redirectWithParams(w, r, callback, url.Values{"error": {"invalid_scope"}, "state": {state}})
			return
		}

		email := users.NormalizeEmail(q.Get("login_hint"))
		user, err := s.repos.Users.GetByEmail(email)
		if email == "" || err != nil || user.Blocked {
			log.Info().Str("email", email).Msg("Denied development authorization")
			redirectWithParams(w, r, callback, url.Values{
				"error":             {"access_denied"},
				"error_description": {"user denied or unknown"},
				"state":             {state},
			})
			return
		}

		now := s.clock.Now()
		s.repos.Codes.Purge(now)
		code := &authflowrepo.AuthCode{
			Code:        generateRandomString(32),
			ClientID:    clientID,
			RedirectURI: redirectURI,
			UserID:      user.ID,
			ExpiresAt:   now.Add(s.config.GetAuthCodeTimeout()),
		}
		if err := s.repos.Codes.Upsert(code); err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "could not issue code", http.StatusInternalServerError)
			return
		}
		redirectWithParams(w, r, callback, url.Values{"code": {code.Code}, "state": {state}})
	}
}

func redirectWithParams(w http.ResponseWriter, r *http.Request, callback *url.URL, params url.Values) {
	target := *callback
	q := target.Query()
	for k, v := range params {
		q[k] = v
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
