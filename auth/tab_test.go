package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-guard/activity"
	"github.com/jrsteele09/go-session-guard/auth"
	"github.com/jrsteele09/go-session-guard/broadcast"
	"github.com/jrsteele09/go-session-guard/inactivity"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/sessions"
	"github.com/jrsteele09/go-session-guard/sso"
	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/jrsteele09/go-session-guard/storage/memstore"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/stretchr/testify/require"
)

const (
	testUserID    = "user-1"
	testEmail     = "john.doe@example.com"
	testPassword  = "Password123"
	testToken     = "access-token-1"
	testClientID  = "client-123"
	testProvider  = "google"
	testNamedTabA = "tab-a"
	testNamedTabB = "tab-b"
)

var (
	epoch    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testUser = users.Identity{UserID: testUserID, Name: "John", Email: testEmail, Role: users.RoleUser}
)

// gatewayRecorder counts the hooks a tab calls
type gatewayRecorder struct {
	mu      sync.Mutex
	logouts []auth.LogoutReason
	logins  []users.Identity
}

func (g *gatewayRecorder) Logout(reason auth.LogoutReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logouts = append(g.logouts, reason)
}

func (g *gatewayRecorder) OnLoginSuccess(identity users.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logins = append(g.logins, identity)
}

func (g *gatewayRecorder) logoutReasons() []auth.LogoutReason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]auth.LogoutReason(nil), g.logouts...)
}

func (g *gatewayRecorder) loginCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.logins)
}

type fakePasswords struct{}

func (fakePasswords) Authenticate(_ context.Context, email, password string) (auth.LoginResult, error) {
	if email != testEmail || password != testPassword {
		return auth.LoginResult{}, interr.ErrInvalidCredentials
	}
	return auth.LoginResult{Identity: testUser, AccessToken: testToken}, nil
}

var staticExchanger = sso.ExchangeFunc(func(context.Context, sso.ExchangeRequest) (sso.ExchangeResult, error) {
	return sso.ExchangeResult{Identity: testUser, AccessToken: testToken}, nil
})

// testFixture is one browser: a shared scope and a clock for all its tabs.
// Tabs talk over hub when it is set, otherwise over storage events.
type testFixture struct {
	clk   *clock.FakeClock
	scope *memstore.Scope
	hub   *broadcast.Hub
}

func newFixture() *testFixture {
	return &testFixture{clk: clock.Fake(epoch), scope: memstore.NewScope()}
}

func newHubFixture() *testFixture {
	f := newFixture()
	f.hub = broadcast.NewHub(f.clk)
	return f
}

type openTab struct {
	tab     *auth.Tab
	gateway *gatewayRecorder
	kv      storage.Store
}

func (f *testFixture) open(t *testing.T, name string, opts ...auth.Option) openTab {
	t.Helper()
	kv := f.scope.Open()
	var b broadcast.Broadcaster
	if f.hub != nil {
		b = f.hub.Join(name)
	} else {
		b = broadcast.NewStorageBroadcaster(kv, name, f.clk)
	}
	gw := &gatewayRecorder{}

	all := append([]auth.Option{
		auth.WithClock(f.clk),
		auth.WithName(name),
		auth.WithProviders(map[string]sso.ProviderConfig{testProvider: {
			ClientID:              testClientID,
			RedirectURI:           "http://localhost:8080/auth/callback",
			Scope:                 "openid email profile",
			AuthorizationEndpoint: "https://accounts.example.com/auth",
		}}),
	}, opts...)
	tab, err := auth.NewTab(auth.Deps{
		Store:       kv,
		Broadcaster: b,
		Exchanger:   staticExchanger,
		Passwords:   fakePasswords{},
		Gateway:     gw,
	}, all...)
	require.NoError(t, err)
	require.NoError(t, tab.Start(context.Background()))

	t.Cleanup(func() {
		tab.Close()
		_ = b.Close()
		_ = kv.Close()
	})
	return openTab{tab: tab, gateway: gw, kv: kv}
}

func storedSessionID(t *testing.T, kv storage.Store) string {
	t.Helper()
	id, _, err := kv.Get(storage.KeySessionID)
	require.NoError(t, err)
	return id
}

func TestEnforceSingleSessionAcrossTabs(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	b := f.open(t, testNamedTabB)

	s1, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)
	require.True(t, a.tab.IsSessionValid())

	s2, err := b.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	require.Eventually(t, func() bool { return len(a.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []auth.LogoutReason{auth.ReasonSuperseded}, a.gateway.logoutReasons())
	require.False(t, a.tab.IsSessionValid())
	require.True(t, b.tab.IsSessionValid())
	require.Equal(t, s2, storedSessionID(t, b.kv), "the superseded tab must not clear the new session")
	require.Empty(t, b.gateway.logoutReasons())
}

func TestIsSessionValidLogsOutSupersededTab(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)

	_, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)

	// Another browser component replaces the session without a broadcast.
	other := sessions.NewStore(f.scope.Open())
	require.NoError(t, other.SaveSession(sessions.Session{ID: "foreign", UserID: testUserID, ExpiresAt: epoch.Add(time.Hour)}))

	require.False(t, a.tab.IsSessionValid())
	_, ok := a.tab.Session()
	require.False(t, ok)
	require.Equal(t, "foreign", storedSessionID(t, a.kv))
	require.Eventually(t, func() bool { return len(a.gateway.logoutReasons()) >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, auth.ReasonSuperseded, a.gateway.logoutReasons()[0])
}

func TestPasswordLogin(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)

	_, err := a.tab.Login(context.Background(), testEmail, "wrong")
	require.ErrorIs(t, err, interr.ErrInvalidCredentials)
	require.False(t, a.tab.IsSessionValid())

	identity, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, testUser, identity)
	require.True(t, a.tab.IsSessionValid())
	require.Equal(t, 1, a.gateway.loginCount())

	current, ok := a.tab.CurrentUser()
	require.True(t, ok)
	require.Equal(t, testUser, current)

	token, ok, err := a.kv.Get(storage.KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testToken, token)

	session, ok := a.tab.Session()
	require.True(t, ok)
	require.Equal(t, epoch.Add(7*24*time.Hour), session.ExpiresAt)
}

func TestLogoutIsIdempotentAndReachesSiblings(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid(), "a new tab adopts the stored session")

	a.tab.Logout(auth.ReasonUser)
	a.tab.Logout(auth.ReasonUser)
	require.Equal(t, []auth.LogoutReason{auth.ReasonUser}, a.gateway.logoutReasons())
	require.Empty(t, storedSessionID(t, a.kv))

	require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(b.gateway.logoutReasons()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.False(t, b.tab.IsSessionValid())
}

func TestInactivityLogsOutOnce(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)

	var prompts []inactivity.WarningState
	var mu sync.Mutex
	a.tab.OnWarning(func(ws inactivity.WarningState) {
		mu.Lock()
		defer mu.Unlock()
		prompts = append(prompts, ws)
	})

	f.clk.Advance(1700 * time.Second)
	require.Equal(t, inactivity.WarningState{Visible: true, RemainingSeconds: 100}, a.tab.WarningPrompt())

	f.clk.Advance(100 * time.Second)
	require.Equal(t, []auth.LogoutReason{auth.ReasonInactivity}, a.gateway.logoutReasons())
	require.False(t, a.tab.IsSessionValid())
	require.False(t, a.tab.WarningPrompt().Visible)
	require.Empty(t, storedSessionID(t, a.kv))

	f.clk.Advance(time.Hour)
	require.Len(t, a.gateway.logoutReasons(), 1)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, prompts)
	require.Equal(t, 100, prompts[0].RemainingSeconds)
	require.False(t, prompts[len(prompts)-1].Visible, "the prompt is hidden once the session ends")
}

func TestStaySignedInKeepsSession(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)

	f.clk.Advance(1750 * time.Second)
	require.True(t, a.tab.WarningPrompt().Visible)
	require.True(t, a.tab.StaySignedIn())
	require.False(t, a.tab.WarningPrompt().Visible)

	f.clk.Advance(1799 * time.Second)
	require.Empty(t, a.gateway.logoutReasons())
	require.True(t, a.tab.IsSessionValid())

	f.clk.Advance(time.Second)
	require.Equal(t, []auth.LogoutReason{auth.ReasonInactivity}, a.gateway.logoutReasons())
	require.False(t, a.tab.StaySignedIn())
}

func TestSiblingActivityMovesDeadline(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)
	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid())

	f.clk.Advance(1000 * time.Second)
	b.tab.RecordActivity(activity.KeyDown)
	want := f.clk.Now().Add(30 * time.Minute)

	require.Eventually(t, func() bool {
		deadline, ok := a.tab.InactivityDeadline()
		return ok && deadline.Equal(want)
	}, time.Second, 5*time.Millisecond)

	f.clk.Advance(1500 * time.Second)
	require.Empty(t, a.gateway.logoutReasons())
	require.True(t, a.tab.IsSessionValid())
}

func TestAbsoluteExpiryWatcher(t *testing.T) {
	settings := auth.DefaultSettings()
	settings.SessionLifetime = 2 * time.Minute

	f := newFixture()
	a := f.open(t, testNamedTabA, auth.WithSettings(settings))
	b := f.open(t, testNamedTabB, auth.WithSettings(settings))

	_, err := a.tab.EnforceSingleSession(testUserID)
	require.NoError(t, err)

	var expired atomic.Bool
	unsubscribe := b.kv.Subscribe(func(c storage.Change) {
		if c.Key == storage.BroadcastKeyPrefix+string(broadcast.TopicSessionExpired) {
			expired.Store(true)
		}
	})
	defer unsubscribe()

	f.clk.Advance(time.Minute)
	require.True(t, a.tab.IsSessionValid())

	f.clk.Advance(time.Minute)
	require.Equal(t, []auth.LogoutReason{auth.ReasonExpired}, a.gateway.logoutReasons())
	require.Empty(t, storedSessionID(t, a.kv))
	require.Eventually(t, expired.Load, time.Second, 5*time.Millisecond, "other tabs are told the session expired")
}

func TestClearSessionDataSignsOutSiblings(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid())

	require.NoError(t, a.tab.ClearSessionData())
	require.NoError(t, a.tab.ClearSessionData())
	require.Empty(t, a.gateway.logoutReasons())
	require.False(t, a.tab.IsSessionValid())

	require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, auth.ReasonSignedOut, b.gateway.logoutReasons()[0])
}

func TestClearSessionDataReachesSiblingsWithoutAuthToken(t *testing.T) {
	for name, f := range map[string]*testFixture{"storage": newFixture(), "hub": newHubFixture()} {
		t.Run(name, func(t *testing.T) {
			a := f.open(t, testNamedTabA)
			_, err := a.tab.EnforceSingleSession(testUserID)
			require.NoError(t, err)
			b := f.open(t, testNamedTabB)
			require.True(t, b.tab.IsSessionValid())

			require.NoError(t, a.tab.ClearSessionData())

			require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
			require.Equal(t, []auth.LogoutReason{auth.ReasonSignedOut}, b.gateway.logoutReasons())
			require.Empty(t, a.gateway.logoutReasons())
		})
	}
}

func TestClearSessionDataOverHub(t *testing.T) {
	f := newHubFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid())

	require.NoError(t, a.tab.ClearSessionData())
	require.NoError(t, a.tab.ClearSessionData())

	require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(b.gateway.logoutReasons()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, auth.ReasonSignedOut, b.gateway.logoutReasons()[0])
	require.False(t, b.tab.IsSessionValid())
}

func TestSiblingsReportExpiry(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid())

	a.tab.Logout(auth.ReasonExpired)
	require.Equal(t, []auth.LogoutReason{auth.ReasonExpired}, a.gateway.logoutReasons())

	require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(b.gateway.logoutReasons()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, []auth.LogoutReason{auth.ReasonExpired}, b.gateway.logoutReasons())
}

func TestSiblingsReportUserLogoutAsSignedOut(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	b := f.open(t, testNamedTabB)
	require.True(t, b.tab.IsSessionValid())

	a.tab.Logout(auth.ReasonUser)

	require.Eventually(t, func() bool { return len(b.gateway.logoutReasons()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []auth.LogoutReason{auth.ReasonSignedOut}, b.gateway.logoutReasons())
}

func TestSSOLoginThroughTab(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	require.Equal(t, []string{testProvider}, a.tab.SSOProviders())

	authURL, err := a.tab.InitiateSSOLogin(context.Background(), testProvider)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	identity, err := a.tab.HandleSSOCallback(context.Background(), sso.CallbackParams{Code: "code-1", State: state})
	require.NoError(t, err)
	require.Equal(t, testUser, identity)
	require.True(t, a.tab.IsSessionValid())
	require.Equal(t, 1, a.gateway.loginCount())

	_, err = a.tab.HandleSSOCallback(context.Background(), sso.CallbackParams{Code: "code-1", State: state})
	require.ErrorIs(t, err, sso.ErrCsrfMismatch)
	require.True(t, a.tab.IsSessionValid(), "a replayed callback does not disturb the live session")
}

func TestSSOCallbackMismatchLeavesNoSession(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)

	_, err := a.tab.InitiateSSOLogin(context.Background(), testProvider)
	require.NoError(t, err)

	_, err = a.tab.HandleSSOCallback(context.Background(), sso.CallbackParams{Code: "code-1", State: "forged"})
	require.ErrorIs(t, err, sso.ErrCsrfMismatch)
	require.Equal(t, "authentication failed", sso.UserMessage(err))
	require.False(t, a.tab.IsSessionValid())
	require.Zero(t, a.gateway.loginCount())
}

func TestInitiateUnknownProvider(t *testing.T) {
	f := newFixture()
	a := f.open(t, testNamedTabA)
	_, err := a.tab.InitiateSSOLogin(context.Background(), "okta")
	require.ErrorIs(t, err, sso.ErrConfiguration)
}

func TestLoginWithoutPasswordAuthenticator(t *testing.T) {
	kv := memstore.NewScope().Open()
	defer kv.Close()
	b := broadcast.NewStorageBroadcaster(kv, testNamedTabA, clock.Fake(epoch))
	defer b.Close()

	tab, err := auth.NewTab(auth.Deps{Store: kv, Broadcaster: b, Exchanger: staticExchanger}, auth.WithClock(clock.Fake(epoch)))
	require.NoError(t, err)
	defer tab.Close()

	_, err = tab.Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, auth.PasswordLoginUnavailableErr)
}

func TestNewTabRequiresDeps(t *testing.T) {
	_, err := auth.NewTab(auth.Deps{})
	require.Error(t, err)
}

func TestHTTPPasswordAuthenticator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case body.Email == "blocked@example.com":
			w.WriteHeader(http.StatusForbidden)
		case body.Email != testEmail || body.Password != testPassword:
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(auth.LoginResult{Identity: testUser, AccessToken: testToken})
		}
	}))
	defer srv.Close()

	authenticator := auth.NewHTTPPasswordAuthenticator(srv.URL, srv.Client())

	result, err := authenticator.Authenticate(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, testUser, result.Identity)
	require.Equal(t, testToken, result.AccessToken)

	_, err = authenticator.Authenticate(context.Background(), testEmail, "nope")
	require.ErrorIs(t, err, interr.ErrInvalidCredentials)

	_, err = authenticator.Authenticate(context.Background(), "blocked@example.com", testPassword)
	require.ErrorIs(t, err, interr.ErrUserBlocked)
}
