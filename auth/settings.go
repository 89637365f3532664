package auth

import (
	"time"

	"github.com/jrsteele09/go-session-guard/inactivity"
	"github.com/jrsteele09/go-session-guard/internal/config"
)

// Settings are the tab's lifecycle durations.
type Settings struct {
	SessionLifetime         time.Duration     // Absolute lifetime of password sessions
	SSOSessionLifetime      time.Duration     // Absolute lifetime of SSO sessions
	Inactivity              inactivity.Config // Inactivity timeout, warning and tick
	ExpiryCheckInterval     time.Duration     // How often absolute expiry is checked
	ActivityPersistInterval time.Duration     // Throttle for last-activity writes
	NonceTTL                time.Duration     // Lifetime of a pending SSO login
	ExchangeTimeout         time.Duration     // Bound on backend calls
}

// DefaultSettings mirrors the defaults of internal/config.
func DefaultSettings() Settings {
	return Settings{
		SessionLifetime:         7 * 24 * time.Hour,
		SSOSessionLifetime:      7 * 24 * time.Hour,
		Inactivity:              inactivity.DefaultConfig(),
		ExpiryCheckInterval:     time.Minute,
		ActivityPersistInterval: time.Second,
		NonceTTL:                5 * time.Minute,
		ExchangeTimeout:         10 * time.Second,
	}
}

// SettingsFromConfig reads the session and SSO settings.
func SettingsFromConfig(cfg interface {
	config.SessionConfig
	config.SSOConfig
}) Settings {
	return Settings{
		SessionLifetime:    cfg.GetSessionLifetime(),
		SSOSessionLifetime: cfg.GetSSOSessionLifetime(),
		Inactivity: inactivity.Config{
			Timeout:         cfg.GetInactivityTimeout(),
			WarningDuration: cfg.GetWarningDuration(),
			TickInterval:    cfg.GetCountdownTick(),
		},
		ExpiryCheckInterval:     cfg.GetExpiryCheckInterval(),
		ActivityPersistInterval: cfg.GetActivityPersistInterval(),
		NonceTTL:                cfg.GetSSONonceTTL(),
		ExchangeTimeout:         cfg.GetIdentityExchangeTimeout(),
	}
}
