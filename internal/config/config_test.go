package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-guard/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, v := range []string{"ENV", "PORT", "ALLOWED_CLIENT_IDS", "SESSION_LIFETIME", "INACTIVITY_TIMEOUT", "INACTIVITY_WARNING", "SSO_NONCE_TTL"} {
		t.Setenv(v, "")
	}
	c := config.New()

	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, 7*24*time.Hour, c.GetSessionLifetime())
	require.Equal(t, 30*time.Minute, c.GetInactivityTimeout())
	require.Equal(t, 100*time.Second, c.GetWarningDuration())
	require.Equal(t, 5*time.Minute, c.GetSSONonceTTL())
	require.Equal(t, ":8081", c.GetPort())
	require.Equal(t, []string{"session-guard-dev"}, c.GetAllowedClientIDs())
}

func TestDurationOverrides(t *testing.T) {
	t.Setenv("INACTIVITY_TIMEOUT", "10m")
	t.Setenv("INACTIVITY_WARNING", "not-a-duration")
	t.Setenv("SESSION_LIFETIME", "-1h")

	c := config.New()
	require.Equal(t, 10*time.Minute, c.GetInactivityTimeout())
	require.Equal(t, 100*time.Second, c.GetWarningDuration())
	require.Equal(t, 7*24*time.Hour, c.GetSessionLifetime())
}

func TestServerSettings(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_CLIENT_IDS", "a, b")
	t.Setenv("ALLOWED_ORIGINS", "http://x.local,http://y.local")
	t.Setenv("ENV", "prod")

	c := config.New()
	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, []string{"a", "b"}, c.GetAllowedClientIDs())
	require.Equal(t, []string{"http://x.local", "http://y.local"}, c.GetAllowedOrigins())
	require.Equal(t, "PROD", c.GetEnv())
}

func TestSSOProviders(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "g-client")
	t.Setenv("OKTA_DOMAIN", "")
	t.Setenv("OIDC_ISSUER", "http://localhost:8081")
	t.Setenv("SSO_REDIRECT_URI", "http://app.local/cb")

	providers := config.New().GetSSOProviders()
	require.Equal(t, "g-client", providers["google"].ClientID)
	require.Equal(t, "http://app.local/cb", providers["google"].RedirectURI)
	require.Equal(t, "code", providers["google"].ResponseType)
	require.Empty(t, providers["okta"].AuthorizationEndpoint)
	require.Equal(t, "http://localhost:8081", providers["oidc"].Issuer)
}
