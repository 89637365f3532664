package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	appNameVar          = "APP_NAME"
	envVar              = "ENV"
	logLevelVar         = "LOG_LEVEL"
	storageDirVar       = "STORAGE_DIR"
	identityEndpointVar = "IDENTITY_ENDPOINT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Guard")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv(envVar, "DEV"))
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetStorageDir is the directory shared by every tab using the file-backed store
func (EnvVars) GetStorageDir() string {
	return GetEnv(storageDirVar, "./data/tabs")
}

// GetIdentityEndpoint is the base URL of the trusted identity-exchange backend
func (EnvVars) GetIdentityEndpoint() string {
	return GetEnv(identityEndpointVar, "http://localhost:8081")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration ("30m", "100s") from the environment.
// Unparseable or non-positive values fall back to the default.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn().Str("var", envVar).Str("value", value).Msg("Ignoring invalid duration")
		return defaultValue
	}
	return d
}
