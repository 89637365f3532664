// Package auth is the composition root of one tab. A Tab wires the shared
// session store, the cross-tab broadcaster, the activity monitor, the
// inactivity machine and the SSO flow together and exposes the login and
// logout surface the application calls.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/activity"
	"github.com/jrsteele09/go-session-guard/broadcast"
	"github.com/jrsteele09/go-session-guard/inactivity"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/sessions"
	"github.com/jrsteele09/go-session-guard/sso"
	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deps holds the collaborators of a Tab
type Deps struct {
	Store       storage.Store         // Shared key/value scope of the origin
	Broadcaster broadcast.Broadcaster // Cross-tab notifications
	Exchanger   sso.IdentityExchanger // Trusted backend resolving SSO codes
	Passwords   PasswordAuthenticator // Optional password login
	Gateway     Gateway               // Application hooks, NopGateway when nil
	Activity    activity.Source       // Optional raw input, watched from Start
}

// Option configures a Tab.
type Option func(*Tab)

// WithClock sets the clock for every timer of the tab.
func WithClock(c clock.Clock) Option {
	return func(t *Tab) { t.clock = c }
}

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option {
	return func(t *Tab) { t.settings = s }
}

// WithProviders registers SSO providers.
func WithProviders(providers map[string]sso.ProviderConfig) Option {
	return func(t *Tab) { t.providers = providers }
}

// WithRedirector sets where SSO logins are redirected.
func WithRedirector(r sso.Redirector) Option {
	return func(t *Tab) { t.redirector = r }
}

// WithName names the tab in logs.
func WithName(name string) Option {
	return func(t *Tab) { t.name = name }
}

// Tab is one open tab of the application.
type Tab struct {
	name        string
	clock       clock.Clock
	settings    Settings
	gateway     Gateway
	passwords   PasswordAuthenticator
	source      activity.Source
	broadcaster broadcast.Broadcaster
	providers   map[string]sso.ProviderConfig
	redirector  sso.Redirector
	logger      zerolog.Logger

	store    *sessions.Store
	registry *sessions.Registry
	monitor  *activity.Monitor
	flow     *sso.Flow

	mu          sync.Mutex
	session     *sessions.Session
	identity    users.Identity
	timer       *inactivity.Timer
	expiry      *clock.Timer
	unsubscribe []func()
	started     bool
	closed      bool

	promptMu       sync.Mutex
	promptHandlers map[uint64]func(inactivity.WarningState)
	nextPrompt     uint64
}

// NewTab wires a tab. The tab does not own deps.Store or deps.Broadcaster.
func NewTab(deps Deps, opts ...Option) (*Tab, error) {
	if deps.Store == nil || deps.Broadcaster == nil {
		return nil, errors.New("[NewTab] store and broadcaster are required")
	}
	if deps.Exchanger == nil {
		return nil, errors.New("[NewTab] identity exchanger is required")
	}

	t := &Tab{
		name:           uuid.NewString(),
		clock:          clock.Real(),
		settings:       DefaultSettings(),
		gateway:        deps.Gateway,
		passwords:      deps.Passwords,
		source:         deps.Activity,
		broadcaster:    deps.Broadcaster,
		promptHandlers: make(map[uint64]func(inactivity.WarningState)),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.gateway == nil {
		t.gateway = NopGateway{}
	}
	t.logger = log.With().Str("tab", t.name).Logger()

	t.store = sessions.NewStore(deps.Store)
	registry, err := sessions.NewRegistry(t.store, deps.Broadcaster, t.clock, t.settings.SessionLifetime)
	if err != nil {
		return nil, errors.Wrap(err, "[NewTab]")
	}
	t.registry = registry
	t.monitor = activity.NewMonitor(t.store, t.clock, t.settings.ActivityPersistInterval)

	flow, err := sso.NewFlow(t.store, t.registry, deps.Exchanger,
		sso.WithClock(t.clock),
		sso.WithProviders(t.providers),
		sso.WithRedirector(t.redirector),
		sso.WithNonceTTL(t.settings.NonceTTL),
		sso.WithExchangeTimeout(t.settings.ExchangeTimeout),
		sso.WithSessionLifetime(t.settings.SSOSessionLifetime),
	)
	if err != nil {
		t.registry.Close()
		t.monitor.Close()
		return nil, errors.Wrap(err, "[NewTab]")
	}
	t.flow = flow

	t.unsubscribe = []func(){
		t.registry.OnInvalidated(t.onInvalidated),
		t.monitor.OnActivity(t.onActivity),
	}
	return t, nil
}

// Start adopts a still-valid session left by another tab and begins
// watching the activity source until ctx is done.
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return TabClosedErr
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	if t.source != nil {
		go func() {
			if err := t.monitor.Watch(ctx, t.source); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn().Err(err).Msg("Activity watch stopped")
			}
		}()
	}

	session, ok := t.registry.Restore()
	if !ok {
		return nil
	}
	identity, found, err := t.store.CurrentUser()
	if err != nil || !found || identity.UserID != session.UserID {
		identity = users.Identity{UserID: session.UserID}
	}
	if err := t.establish(session, identity, t.monitor.LastActivity()); err != nil {
		if errors.Is(err, interr.ErrSessionExpired) {
			return nil
		}
		return err
	}
	t.logger.Info().Str("user_id", session.UserID).Str("session_id", session.ID).Msg("Restored session")
	return nil
}

// Close stops every timer and subscription. The shared session is left in
// place for the other tabs.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	timer, expiry := t.timer, t.expiry
	t.timer, t.expiry, t.session = nil, nil, nil
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	expiry.Stop()
	for _, u := range unsubscribe {
		u()
	}
	t.registry.Close()
	t.monitor.Close()
}

// Login authenticates with a password and starts a session.
func (t *Tab) Login(ctx context.Context, email, password string) (users.Identity, error) {
	if t.passwords == nil {
		return users.Identity{}, PasswordLoginUnavailableErr
	}

	ctx, cancel := context.WithTimeout(ctx, t.settings.ExchangeTimeout)
	defer cancel()
	result, err := t.passwords.Authenticate(ctx, email, password)
	if err != nil {
		t.logger.Warn().Err(err).Str("email", email).Msg("Password login failed")
		return users.Identity{}, errors.Wrap(err, "[Login]")
	}

	session, err := t.registry.CreateSession(result.Identity.UserID, sessions.WithLifetime(t.settings.SessionLifetime))
	if err != nil {
		return users.Identity{}, errors.Wrap(err, "[Login]")
	}
	if err := t.complete(session, result.Identity, result.AccessToken); err != nil {
		return users.Identity{}, err
	}
	return result.Identity, nil
}

// InitiateSSOLogin redirects to provider and returns the authorization URL.
func (t *Tab) InitiateSSOLogin(ctx context.Context, provider string) (string, error) {
	return t.flow.Initiate(ctx, provider)
}

// HandleSSOCallback completes an SSO login. Errors are *sso.Error values;
// show sso.UserMessage to the user.
func (t *Tab) HandleSSOCallback(ctx context.Context, params sso.CallbackParams) (users.Identity, error) {
	result, err := t.flow.Callback(ctx, params)
	if err != nil {
		return users.Identity{}, err
	}
	if err := t.complete(result.Session, result.Identity, result.AccessToken); err != nil {
		return users.Identity{}, err
	}
	return result.Identity, nil
}

// SSOProviders lists the configured SSO providers.
func (t *Tab) SSOProviders() []string {
	return t.flow.ConfiguredProviders()
}

// EnforceSingleSession mints a new session for userID, superseding any
// other, and adopts it in this tab.
func (t *Tab) EnforceSingleSession(userID string) (string, error) {
	session, err := t.registry.CreateSession(userID, sessions.WithLifetime(t.settings.SessionLifetime))
	if err != nil {
		return "", errors.Wrap(err, "[EnforceSingleSession]")
	}

	identity := users.Identity{UserID: userID}
	t.mu.Lock()
	if t.identity.UserID == userID {
		identity = t.identity
	}
	t.mu.Unlock()

	if err := t.establish(session, identity, t.clock.Now()); err != nil {
		return "", err
	}
	return session.ID, nil
}

// IsSessionValid checks the tab's session against the shared store. A
// session found superseded or expired is logged out locally.
func (t *Tab) IsSessionValid() bool {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return false
	}
	session := *t.session
	t.mu.Unlock()

	if t.registry.Check(session.UserID, session.ID) {
		return true
	}
	t.endSession(session.ID, t.invalidReason(session))
	return false
}

// Session returns the tab's current session.
func (t *Tab) Session() (sessions.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return sessions.Session{}, false
	}
	return *t.session, true
}

// CurrentUser returns the identity of the tab's session.
func (t *Tab) CurrentUser() (users.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity, t.session != nil
}

// Logout ends the tab's session. It is idempotent. Shared storage is only
// cleared, and the other tabs only told, while the stored session is still
// this tab's.
func (t *Tab) Logout(reason LogoutReason) {
	t.endSession("", reason)
}

// ClearSessionData removes every session key from shared storage and drops
// the tab's local state without calling the gateway.
func (t *Tab) ClearSessionData() error {
	t.mu.Lock()
	timer, expiry := t.timer, t.expiry
	t.timer, t.expiry, t.session = nil, nil, nil
	t.identity = users.Identity{}
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	expiry.Stop()
	_, err := t.registry.Clear()
	return err
}

// ResetInactivityTimer records activity now.
func (t *Tab) ResetInactivityTimer() {
	t.monitor.Record(activity.Manual)
}

// RecordActivity records one raw input event.
func (t *Tab) RecordActivity(kind activity.EventKind) {
	t.monitor.Record(kind)
}

// StaySignedIn dismisses the inactivity warning. It reports false when
// there is no session or the machine has already expired.
func (t *Tab) StaySignedIn() bool {
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()
	if timer == nil || !timer.StaySignedIn() {
		return false
	}
	t.monitor.Record(activity.Manual)
	return true
}

// WarningPrompt returns the render data of the inactivity warning.
func (t *Tab) WarningPrompt() inactivity.WarningState {
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()
	if timer == nil {
		return inactivity.WarningState{}
	}
	return timer.Prompt()
}

// InactivityDeadline returns when the tab's session would expire without
// further activity.
func (t *Tab) InactivityDeadline() (time.Time, bool) {
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()
	if timer == nil {
		return time.Time{}, false
	}
	return timer.Deadline(), true
}

// LastActivity returns the newest activity seen by this tab or its siblings.
func (t *Tab) LastActivity() time.Time {
	return t.monitor.LastActivity()
}

// OnWarning registers h for every countdown tick and for the prompt being
// hidden again.
func (t *Tab) OnWarning(h func(inactivity.WarningState)) func() {
	t.promptMu.Lock()
	defer t.promptMu.Unlock()
	id := t.nextPrompt
	t.nextPrompt++
	t.promptHandlers[id] = h
	return func() {
		t.promptMu.Lock()
		defer t.promptMu.Unlock()
		delete(t.promptHandlers, id)
	}
}

// complete stores the credential and identity of a new session and adopts
// it. On failure the half-made session is removed again.
func (t *Tab) complete(session sessions.Session, identity users.Identity, token string) error {
	if token != "" {
		if err := t.store.SetAuthToken(token); err != nil {
			t.abandon(session)
			return errors.Wrap(err, "[complete] store auth token")
		}
	}
	if err := t.store.SetCurrentUser(identity); err != nil {
		t.abandon(session)
		return errors.Wrap(err, "[complete] store current user")
	}
	if err := t.establish(session, identity, t.clock.Now()); err != nil {
		t.abandon(session)
		return err
	}
	t.monitor.Record(activity.Manual)

	t.logger.Info().Str("user_id", identity.UserID).Str("session_id", session.ID).Msg("Login succeeded")
	t.gateway.OnLoginSuccess(identity)
	return nil
}

func (t *Tab) abandon(session sessions.Session) {
	t.registry.Forget(session.UserID)
	if storedID, _, err := t.store.SessionID(); err == nil && storedID == session.ID {
		if _, err := t.store.Clear(); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove abandoned session")
		}
	}
}

// establish makes session the tab's session with a fresh inactivity
// machine and expiry watcher, replacing any previous one.
func (t *Tab) establish(session sessions.Session, identity users.Identity, lastActivity time.Time) error {
	sessionID := session.ID
	timer, err := inactivity.New(t.clock, t.settings.Inactivity, func() {
		t.endSession(sessionID, ReasonInactivity)
	}, inactivity.WithLastActivity(lastActivity))
	if err != nil {
		return errors.Wrap(err, "[establish]")
	}
	timer.OnTick(t.notifyPrompt)
	timer.OnStateChange(func(s inactivity.State) {
		if s != inactivity.Warning {
			t.notifyPrompt(inactivity.WarningState{})
		}
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		timer.Stop()
		return TabClosedErr
	}
	previous, previousExpiry := t.timer, t.expiry
	t.session = &session
	t.identity = identity
	t.timer = timer
	t.expiry = t.scheduleExpiryCheckLocked(sessionID)
	t.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	previousExpiry.Stop()

	if timer.State() == inactivity.Expired {
		t.endSession(sessionID, ReasonInactivity)
		return interr.ErrSessionExpired
	}
	return nil
}

func (t *Tab) scheduleExpiryCheckLocked(sessionID string) *clock.Timer {
	interval := t.settings.ExpiryCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return t.clock.AfterFunc(interval, func() { t.checkExpiry(sessionID) })
}

// checkExpiry is the periodic absolute-expiry check.
func (t *Tab) checkExpiry(sessionID string) {
	t.mu.Lock()
	if t.closed || t.session == nil || t.session.ID != sessionID {
		t.mu.Unlock()
		return
	}
	session := *t.session
	t.mu.Unlock()

	if !t.registry.Check(session.UserID, session.ID) {
		t.endSession(sessionID, t.invalidReason(session))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed && t.session != nil && t.session.ID == sessionID {
		t.expiry = t.scheduleExpiryCheckLocked(sessionID)
	}
}

// invalidReason distinguishes a session that ran out from one another tab
// replaced.
func (t *Tab) invalidReason(session sessions.Session) LogoutReason {
	storedID, _, err := t.store.SessionID()
	if err == nil && storedID != "" && storedID != session.ID {
		return ReasonSuperseded
	}
	return ReasonExpired
}

// endSession tears down the tab's session if it is sessionID, or any
// session when sessionID is empty. It reports whether a session ended.
func (t *Tab) endSession(sessionID string, reason LogoutReason) bool {
	t.mu.Lock()
	if t.session == nil || (sessionID != "" && t.session.ID != sessionID) {
		t.mu.Unlock()
		return false
	}
	session := *t.session
	timer, expiry := t.timer, t.expiry
	t.session, t.timer, t.expiry = nil, nil, nil
	t.identity = users.Identity{}
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	expiry.Stop()
	t.registry.Forget(session.UserID)
	t.notifyPrompt(inactivity.WarningState{})

	storedID, _, err := t.store.SessionID()
	switch {
	case err != nil:
		t.logger.Warn().Err(err).Msg("Could not read stored session during logout")
	case storedID == session.ID:
		// Published before the clear so siblings see the reason ahead of
		// the auth-token removal.
		topic := broadcast.TopicSessionInvalidated
		if reason == ReasonExpired {
			topic = broadcast.TopicSessionExpired
		}
		err := t.broadcaster.Publish(topic, broadcast.Payload{
			UserID:    session.UserID,
			SessionID: session.ID,
			Reason:    string(reason),
		})
		if err != nil {
			t.logger.Warn().Err(err).Str("topic", string(topic)).Msg("Failed to broadcast logout")
		}
		if _, err := t.store.Clear(); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to clear session data")
		}
	}

	t.logger.Info().Str("user_id", session.UserID).Str("session_id", session.ID).Str("reason", string(reason)).Msg("Logged out")
	t.gateway.Logout(reason)
	return true
}

func (t *Tab) onInvalidated(inv sessions.Invalidation) {
	t.endSession(inv.SessionID, siblingReason(inv))
}

// siblingReason maps how another tab ended a session to the reason this
// tab reports.
func siblingReason(inv sessions.Invalidation) LogoutReason {
	switch inv.Topic {
	case broadcast.TopicSessionExpired:
		return ReasonExpired
	case broadcast.TopicAuthTokenCleared:
		return ReasonSignedOut
	}
	switch LogoutReason(inv.Reason) {
	case "", ReasonSuperseded:
		return ReasonSuperseded
	case ReasonInactivity:
		return ReasonInactivity
	default:
		return ReasonSignedOut
	}
}

func (t *Tab) onActivity(at time.Time) {
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()
	if timer != nil {
		timer.Reset(at)
	}
}

func (t *Tab) notifyPrompt(ws inactivity.WarningState) {
	t.promptMu.Lock()
	handlers := make([]func(inactivity.WarningState), 0, len(t.promptHandlers))
	for _, h := range t.promptHandlers {
		handlers = append(handlers, h)
	}
	t.promptMu.Unlock()
	for _, h := range handlers {
		h(ws)
	}
}
