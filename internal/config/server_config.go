package config

import (
	"fmt"
	"strings"
	"time"
)

// ServerConfig configures the identity-exchange backend stub
type ServerConfig interface {
	GetPort() string
	GetJWTSecret() string
	GetAccessTokenExpiry() time.Duration
	GetAuthCodeTimeout() time.Duration
	GetAllowedClientIDs() []string
	GetSeedUsers() string
	GetAllowedOrigins() []string
	GetAllowedRedirectURIs() []string
}

type Server struct{}

var _ ServerConfig = Server{}

func (Server) GetPort() string {
	port := GetEnv("PORT", "8081")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (Server) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "dev-only-secret-change-me-in-production")
}

func (Server) GetAccessTokenExpiry() time.Duration {
	return 1 * time.Hour
}

func (Server) GetAuthCodeTimeout() time.Duration {
	return 1 * time.Minute
}

func (Server) GetAllowedClientIDs() []string {
	return strings.Fields(strings.ReplaceAll(GetEnv("ALLOWED_CLIENT_IDS", "session-guard-dev"), ",", " "))
}

// GetSeedUsers lists "email:password:role" triples separated by commas
func (Server) GetSeedUsers() string {
	return GetEnv("SEED_USERS", "demo@example.com:Password123:user")
}

// GetAllowedOrigins lists the origins allowed to call the backend from a browser. "*" allows any.
func (Server) GetAllowedOrigins() []string {
	return strings.Fields(strings.ReplaceAll(GetEnv("ALLOWED_ORIGINS", "http://localhost:8080"), ",", " "))
}

// GetAllowedRedirectURIs lists the callback URLs the development authorize endpoint redirects to
func (Server) GetAllowedRedirectURIs() []string {
	return strings.Fields(strings.ReplaceAll(GetEnv("ALLOWED_REDIRECT_URIS", "http://localhost:8080/auth/callback"), ",", " "))
}
