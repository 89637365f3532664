package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
	SSOConfig
	ServerConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetStorageDir() string
	GetIdentityEndpoint() string
}

type SessionConfig interface {
	GetSessionLifetime() time.Duration
	GetInactivityTimeout() time.Duration
	GetWarningDuration() time.Duration
	GetCountdownTick() time.Duration
	GetExpiryCheckInterval() time.Duration
	GetActivityPersistInterval() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
	SSO
	Server
}

func New() Config {
	return mainConfig{}
}
