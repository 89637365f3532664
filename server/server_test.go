package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-guard/auth"
	"github.com/jrsteele09/go-session-guard/broadcast"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/internal/config"
	"github.com/jrsteele09/go-session-guard/server"
	"github.com/jrsteele09/go-session-guard/sessions"
	"github.com/jrsteele09/go-session-guard/sso"
	"github.com/jrsteele09/go-session-guard/storage/memstore"
	"github.com/jrsteele09/go-session-guard/token"
	"github.com/jrsteele09/go-session-guard/users"
	fakeuserrepo "github.com/jrsteele09/go-session-guard/users/repofake"
	"github.com/stretchr/testify/require"
)

type backend struct {
	srv   *httptest.Server
	users *fakeuserrepo.FakeUserRepo
	clk   *clock.FakeClock
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("SEED_USERS", "alice@example.com:Password123:user,blocked@example.com:Password123:user")
	t.Setenv("ALLOWED_CLIENT_IDS", "session-guard-dev")
	t.Setenv("ALLOWED_ORIGINS", "http://app.local")
	t.Setenv("ALLOWED_REDIRECT_URIS", "http://app.local/auth/callback")

	repo := fakeuserrepo.NewFakeUserRepo()
	clk := clock.Fake(time.Now())
	s, err := server.New(config.New(), server.Repos{Users: repo}, server.WithClock(clk))
	require.NoError(t, err)
	require.NoError(t, s.SeedUsers())
	require.NoError(t, repo.SetBlocked("blocked@example.com", true))

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &backend{srv: srv, users: repo, clk: clk}
}

func noRedirects() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func (b *backend) authorize(t *testing.T, params url.Values) *url.URL {
	t.Helper()
	resp, err := noRedirects().Get(b.srv.URL + server.RouteDevAuthorize + "?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc
}

func authorizeParams(email string) url.Values {
	return url.Values{
		"client_id":     {"session-guard-dev"},
		"redirect_uri":  {"http://app.local/auth/callback"},
		"state":         {"state-1"},
		"response_type": {"code"},
		"login_hint":    {email},
	}
}

func TestPasswordLogin(t *testing.T) {
	b := newBackend(t)
	authenticator := auth.NewHTTPPasswordAuthenticator(b.srv.URL+server.RouteAuthLogin, nil)

	result, err := authenticator.Authenticate(context.Background(), "alice@example.com", "Password123")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.Identity.Email)
	require.Equal(t, "alice", result.Identity.Name)
	require.NotEmpty(t, result.Identity.UserID)
	require.NotEmpty(t, result.AccessToken)

	stored, err := b.users.GetByEmail("alice@example.com")
	require.NoError(t, err)
	require.False(t, stored.LastLogin.IsZero())

	_, err = authenticator.Authenticate(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)
	_, err = authenticator.Authenticate(context.Background(), "nobody@example.com", "Password123")
	require.Error(t, err)
	_, err = authenticator.Authenticate(context.Background(), "blocked@example.com", "Password123")
	require.Error(t, err)
}

func TestLoginStatusCodes(t *testing.T) {
	b := newBackend(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"missing password", `{"email":"alice@example.com"}`, http.StatusBadRequest},
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"blocked", `{"email":"blocked@example.com","password":"Password123"}`, http.StatusForbidden},
		{"ok", `{"email":"Alice@Example.com","password":"Password123"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(b.srv.URL+server.RouteAuthLogin, "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		})
	}
}

func TestAuthorizeIssuesSingleUseCode(t *testing.T) {
	b := newBackend(t)
	loc := b.authorize(t, authorizeParams("alice@example.com"))
	require.Equal(t, "app.local", loc.Host)
	require.Equal(t, "state-1", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	exchanger := sso.NewHTTPExchanger(b.srv.URL+server.RouteAuthSSO, nil)
	req := sso.ExchangeRequest{Code: code, RedirectURI: "http://app.local/auth/callback", Provider: "oidc"}

	result, err := exchanger.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.Identity.Email)

	_, err = exchanger.Exchange(context.Background(), req)
	require.ErrorIs(t, err, sso.ErrCodeRejected)
}

func TestAuthorizeCodeExpires(t *testing.T) {
	b := newBackend(t)
	code := b.authorize(t, authorizeParams("alice@example.com")).Query().Get("code")

	b.clk.Set(b.clk.Now().Add(2 * time.Minute))
	exchanger := sso.NewHTTPExchanger(b.srv.URL+server.RouteAuthSSO, nil)
	_, err := exchanger.Exchange(context.Background(), sso.ExchangeRequest{Code: code})
	require.ErrorIs(t, err, sso.ErrCodeRejected)
}

func TestAuthorizeRedirectURIMustMatch(t *testing.T) {
	b := newBackend(t)
	code := b.authorize(t, authorizeParams("alice@example.com")).Query().Get("code")

	exchanger := sso.NewHTTPExchanger(b.srv.URL+server.RouteAuthSSO, nil)
	_, err := exchanger.Exchange(context.Background(), sso.ExchangeRequest{Code: code, RedirectURI: "http://evil.local/cb"})
	require.ErrorIs(t, err, sso.ErrCodeRejected)
}

func TestAuthorizeDenied(t *testing.T) {
	b := newBackend(t)

	for _, email := range []string{"", "nobody@example.com", "blocked@example.com"} {
		loc := b.authorize(t, authorizeParams(email))
		require.Equal(t, "access_denied", loc.Query().Get("error"))
		require.Equal(t, "state-1", loc.Query().Get("state"))
		require.Empty(t, loc.Query().Get("code"))
	}

	params := authorizeParams("alice@example.com")
	params.Set("response_type", "token")
	loc := b.authorize(t, params)
	require.Equal(t, "unsupported_response_type", loc.Query().Get("error"))

	params = authorizeParams("alice@example.com")
	params.Set("scope", "openid admin")
	loc = b.authorize(t, params)
	require.Equal(t, "invalid_scope", loc.Query().Get("error"))
}

func TestAuthorizeRejectsBadRequests(t *testing.T) {
	b := newBackend(t)

	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"unknown client", func(v url.Values) { v.Set("client_id", "other") }},
		{"relative redirect", func(v url.Values) { v.Set("redirect_uri", "/cb") }},
		{"missing state", func(v url.Values) { v.Del("state") }},
		{"unregistered redirect", func(v url.Values) { v.Set("redirect_uri", "http://evil.local/auth/callback") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := authorizeParams("alice@example.com")
			tt.mutate(params)
			resp, err := noRedirects().Get(b.srv.URL + server.RouteDevAuthorize + "?" + params.Encode())
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestValidateAndLogout(t *testing.T) {
	b := newBackend(t)
	authenticator := auth.NewHTTPPasswordAuthenticator(b.srv.URL+server.RouteAuthLogin, nil)
	result, err := authenticator.Authenticate(context.Background(), "alice@example.com", "Password123")
	require.NoError(t, err)

	post := func(path, bearer string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, b.srv.URL+path, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(server.RouteAuthValidate, result.AccessToken)
	var claims token.Claims
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claims))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, result.Identity.UserID, claims.Subject)

	resp = post(server.RouteAuthLogout, result.AccessToken)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = post(server.RouteAuthValidate, result.AccessToken)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(server.RouteAuthValidate, "")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCorsPreflight(t *testing.T) {
	b := newBackend(t)

	req, err := http.NewRequest(http.MethodOptions, b.srv.URL+server.RouteAuthLogin, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://app.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://other.local")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

// TestSSOFlowAgainstBackend drives a tab's SSO flow through discovery, the
// development authorize endpoint and the code exchange.
func TestSSOFlowAgainstBackend(t *testing.T) {
	b := newBackend(t)

	kv := memstore.NewScope().Open()
	clk := clock.Real()
	bc := broadcast.NewStorageBroadcaster(kv, "tab-a", clk)
	store := sessions.NewStore(kv)
	registry, err := sessions.NewRegistry(store, bc, clk, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() {
		registry.Close()
		_ = bc.Close()
		_ = kv.Close()
	})

	flow, err := sso.NewFlow(store, registry, sso.NewHTTPExchanger(b.srv.URL+server.RouteAuthSSO, nil),
		sso.WithProviders(map[string]sso.ProviderConfig{
			"oidc": {
				ClientID:    "session-guard-dev",
				RedirectURI: "http://app.local/auth/callback",
				Scope:       "openid email profile",
				Issuer:      b.srv.URL,
			},
		}),
	)
	require.NoError(t, err)

	authURL, err := flow.Initiate(context.Background(), "oidc")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, server.RouteDevAuthorize, parsed.Path)

	params := parsed.Query()
	params.Set("login_hint", "alice@example.com")
	loc := b.authorize(t, params)

	result, err := flow.Callback(context.Background(), sso.CallbackParams{
		Code:  loc.Query().Get("code"),
		State: loc.Query().Get("state"),
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.Identity.Email)
	require.Equal(t, users.RoleUser, result.Identity.Role)
	require.True(t, registry.Check(result.Identity.UserID, result.Session.ID))
}
