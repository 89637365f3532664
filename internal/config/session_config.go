package config

import "time"

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionLifetime is the absolute session lifetime. Activity never extends it.
func (Session) GetSessionLifetime() time.Duration {
	return GetEnvDuration("SESSION_LIFETIME", 7*24*time.Hour) // 7 days
}

func (Session) GetInactivityTimeout() time.Duration {
	return GetEnvDuration("INACTIVITY_TIMEOUT", 30*time.Minute)
}

func (Session) GetWarningDuration() time.Duration {
	return GetEnvDuration("INACTIVITY_WARNING", 100*time.Second)
}

func (Session) GetCountdownTick() time.Duration {
	return time.Second
}

func (Session) GetExpiryCheckInterval() time.Duration {
	return GetEnvDuration("EXPIRY_CHECK_INTERVAL", time.Minute)
}

// GetActivityPersistInterval throttles how often last-activity is written to shared storage
func (Session) GetActivityPersistInterval() time.Duration {
	return time.Second
}
