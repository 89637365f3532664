// Package sso runs the redirect-based single sign-on flow. Initiate stores a
// single-use nonce and redirects to the provider; Callback consumes the
// nonce, checks the returned state against it and has a trusted backend
// resolve the authorization code to an identity before a session is made.
package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/sessions"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	nonceBytes             = 32
	defaultNonceTTL        = 5 * time.Minute
	defaultExchangeTimeout = 10 * time.Second
	defaultSessionLifetime = 7 * 24 * time.Hour
)

// Redirector sends the user agent to the provider.
type Redirector interface {
	Redirect(url string) error
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(url string) error

func (f RedirectFunc) Redirect(url string) error { return f(url) }

// CallbackParams are the query parameters of the provider's redirect back.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Result is a completed login.
type Result struct {
	Identity    users.Identity
	Session     sessions.Session
	AccessToken string
	Provider    string
}

// Flow is the SSO state machine for one tab.
type Flow struct {
	store     *sessions.Store
	registry  *sessions.Registry
	exchanger IdentityExchanger

	redirector      Redirector
	clock           clock.Clock
	random          io.Reader
	nonceTTL        time.Duration
	exchangeTimeout time.Duration
	sessionLifetime time.Duration
	discovery       *discovery

	mu        sync.RWMutex
	providers map[string]ProviderConfig
}

// Option configures a Flow.
type Option func(*Flow)

// WithProviders registers every provider in providers.
func WithProviders(providers map[string]ProviderConfig) Option {
	return func(f *Flow) {
		for name, p := range providers {
			f.providers[name] = p
		}
	}
}

// WithRedirector sets where Initiate sends the authorization URL.
func WithRedirector(r Redirector) Option {
	return func(f *Flow) { f.redirector = r }
}

// WithClock sets the clock used for nonce expiry.
func WithClock(c clock.Clock) Option {
	return func(f *Flow) { f.clock = c }
}

// WithRandom sets the nonce entropy source.
func WithRandom(r io.Reader) Option {
	return func(f *Flow) { f.random = r }
}

// WithNonceTTL sets how long a pending login stays valid.
func WithNonceTTL(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.nonceTTL = d
		}
	}
}

// WithExchangeTimeout bounds the identity exchange.
func WithExchangeTimeout(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.exchangeTimeout = d
		}
	}
}

// WithSessionLifetime sets the absolute lifetime of SSO sessions.
func WithSessionLifetime(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.sessionLifetime = d
		}
	}
}

// NewFlow creates a Flow.
func NewFlow(store *sessions.Store, registry *sessions.Registry, exchanger IdentityExchanger, opts ...Option) (*Flow, error) {
	if store == nil || registry == nil {
		return nil, errors.New("[NewFlow] store and registry are required")
	}
	if exchanger == nil {
		return nil, errors.New("[NewFlow] identity exchanger is required")
	}

	f := &Flow{
		store:           store,
		registry:        registry,
		exchanger:       exchanger,
		clock:           clock.Real(),
		random:          rand.Reader,
		nonceTTL:        defaultNonceTTL,
		exchangeTimeout: defaultExchangeTimeout,
		sessionLifetime: defaultSessionLifetime,
		discovery:       newDiscovery(),
		providers:       make(map[string]ProviderConfig),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// RegisterProvider adds or replaces a provider.
func (f *Flow) RegisterProvider(name string, cfg ProviderConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[name] = cfg
}

// IsConfigured reports whether provider has everything Initiate needs.
func (f *Flow) IsConfigured(provider string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg, ok := f.providers[provider]
	return ok && len(cfg.missing()) == 0
}

// ConfiguredProviders lists the usable providers in name order.
func (f *Flow) ConfiguredProviders() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var names []string
	for name, cfg := range f.providers {
		if len(cfg.missing()) == 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Initiate starts a login with provider. Configuration problems are reported
// before a nonce is written or anything is redirected. It returns the
// authorization URL.
func (f *Flow) Initiate(ctx context.Context, provider string) (string, error) {
	f.mu.RLock()
	cfg, ok := f.providers[provider]
	f.mu.RUnlock()
	if !ok {
		return "", newError(KindConfiguration, provider, errors.New("unknown provider"))
	}
	if missing := cfg.missing(); len(missing) > 0 {
		return "", newError(KindConfiguration, provider, errors.Errorf("missing %s", strings.Join(missing, ", ")))
	}

	authURL := cfg.AuthorizationEndpoint
	if authURL == "" {
		discovered, err := f.discovery.authorizationEndpoint(ctx, cfg.Issuer)
		if err != nil {
			return "", newError(KindNetwork, provider, err)
		}
		authURL = discovered
	}

	nonce, err := f.newNonce()
	if err != nil {
		return "", errors.Wrap(err, "[Initiate] generate nonce")
	}
	err = f.store.SaveNonce(sessions.Nonce{
		Value:     nonce,
		Provider:  provider,
		ExpiresAt: f.clock.Now().Add(f.nonceTTL),
	})
	if err != nil {
		return "", errors.Wrap(err, "[Initiate] persist nonce")
	}

	oauthCfg := oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Scopes:      strings.Fields(cfg.Scope),
		Endpoint:    oauth2.Endpoint{AuthURL: authURL},
	}
	redirectURL := oauthCfg.AuthCodeURL(nonce, oauth2.SetAuthURLParam("response_type", cfg.responseType()))

	log.Info().Str("provider", provider).Msg("SSO login initiated")

	if f.redirector != nil {
		if err := f.redirector.Redirect(redirectURL); err != nil {
			return "", errors.Wrap(err, "[Initiate] redirect")
		}
	}
	return redirectURL, nil
}

// Callback completes a login. The pending nonce is consumed before anything
// else, so a second callback with the same parameters always fails. On any
// failure no session is created.
func (f *Flow) Callback(ctx context.Context, params CallbackParams) (Result, error) {
	nonce, found, err := f.store.ConsumeNonce()
	if err != nil {
		log.Warn().Err(err).Msg("SSO callback could not read the pending nonce")
		found = false
	}
	provider := nonce.Provider

	if params.Error != "" {
		log.Warn().Str("provider", provider).Str("error", params.Error).Str("description", params.ErrorDescription).Msg("Identity provider reported an error")
		return Result{}, newError(KindProvider, provider, errors.Errorf("provider returned %q", params.Error))
	}
	if params.Code == "" || params.State == "" {
		log.Warn().Str("provider", provider).Bool("has_code", params.Code != "").Bool("has_state", params.State != "").Msg("SSO callback missing parameters")
		return Result{}, newError(KindMissingParameters, provider, nil)
	}
	if !found || nonce.IsExpired(f.clock.Now()) || subtle.ConstantTimeCompare([]byte(nonce.Value), []byte(params.State)) != 1 {
		log.Warn().Str("provider", provider).Bool("nonce_found", found).Msg("SSO state does not match the pending nonce")
		return Result{}, newError(KindCsrfMismatch, provider, nil)
	}

	f.mu.RLock()
	cfg := f.providers[provider]
	f.mu.RUnlock()

	exchanged, err := f.exchange(ctx, ExchangeRequest{
		Code:        params.Code,
		RedirectURI: cfg.RedirectURI,
		Provider:    provider,
	})
	if err != nil {
		return Result{}, err
	}

	session, err := f.registry.CreateSession(exchanged.Identity.UserID, sessions.WithLifetime(f.sessionLifetime))
	if err != nil {
		return Result{}, errors.Wrap(err, "[Callback] create session")
	}

	log.Info().Str("provider", provider).Str("user_id", exchanged.Identity.UserID).Msg("SSO login completed")
	return Result{
		Identity:    exchanged.Identity,
		Session:     session,
		AccessToken: exchanged.AccessToken,
		Provider:    provider,
	}, nil
}

// exchange runs the identity exchange under the flow's timeout. An
// exchanger that ignores its context is abandoned when the timeout fires.
func (f *Flow) exchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.exchangeTimeout)
	defer cancel()

	type outcome struct {
		result ExchangeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.exchanger.Exchange(ctx, req)
		done <- outcome{result, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	switch {
	case out.err != nil && errors.Is(out.err, ErrCodeRejected):
		log.Warn().Err(out.err).Str("provider", req.Provider).Msg("Backend rejected the authorization code")
		return ExchangeResult{}, newError(KindProvider, req.Provider, out.err)
	case out.err != nil:
		log.Warn().Err(out.err).Str("provider", req.Provider).Msg("Identity exchange failed")
		return ExchangeResult{}, newError(KindNetwork, req.Provider, out.err)
	case out.result.Identity.UserID == "":
		log.Warn().Str("provider", req.Provider).Msg("Identity exchange returned no user")
		return ExchangeResult{}, newError(KindProvider, req.Provider, errors.New("no user in exchange response"))
	}
	return out.result, nil
}

func (f *Flow) newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(f.random, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
