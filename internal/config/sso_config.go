package config

import (
	"fmt"
	"time"
)

type SSOConfig interface {
	GetSSOProviders() map[string]ProviderSettings
	GetSSORedirectURI() string
	GetSSONonceTTL() time.Duration
	GetSSOSessionLifetime() time.Duration
	GetIdentityExchangeTimeout() time.Duration
}

// ProviderSettings is the raw provider configuration read from the environment.
type ProviderSettings struct {
	ClientID              string
	RedirectURI           string
	Scope                 string
	ResponseType          string
	AuthorizationEndpoint string
	Issuer                string
}

type SSO struct{}

var _ SSOConfig = SSO{}

const defaultScope = "openid email profile"

func (s SSO) GetSSOProviders() map[string]ProviderSettings {
	redirectURI := s.GetSSORedirectURI()
	providers := map[string]ProviderSettings{
		"google": {
			ClientID:              GetEnv("GOOGLE_CLIENT_ID", ""),
			AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		},
		"microsoft": {
			ClientID:              GetEnv("MICROSOFT_CLIENT_ID", ""),
			AuthorizationEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		},
		"okta": {
			ClientID:              GetEnv("OKTA_CLIENT_ID", ""),
			AuthorizationEndpoint: domainEndpoint(GetEnv("OKTA_DOMAIN", ""), "/oauth2/v1/authorize"),
		},
		"onelogin": {
			ClientID:              GetEnv("ONELOGIN_CLIENT_ID", ""),
			AuthorizationEndpoint: domainEndpoint(GetEnv("ONELOGIN_DOMAIN", ""), "/oidc/2/auth"),
		},
	}

	// A generic OIDC provider discovered from its issuer, e.g. the dev identity backend
	if issuer := GetEnv("OIDC_ISSUER", ""); issuer != "" {
		providers["oidc"] = ProviderSettings{
			ClientID:              GetEnv("OIDC_CLIENT_ID", ""),
			Issuer:                issuer,
			AuthorizationEndpoint: GetEnv("OIDC_AUTHORIZATION_ENDPOINT", ""),
		}
	}

	for name, p := range providers {
		p.RedirectURI = redirectURI
		p.Scope = defaultScope
		p.ResponseType = "code"
		providers[name] = p
	}
	return providers
}

func (SSO) GetSSORedirectURI() string {
	return GetEnv("SSO_REDIRECT_URI", "http://localhost:8080/auth/callback")
}

func (SSO) GetSSONonceTTL() time.Duration {
	return GetEnvDuration("SSO_NONCE_TTL", 5*time.Minute)
}

func (SSO) GetSSOSessionLifetime() time.Duration {
	return 7 * 24 * time.Hour // 7 days
}

func (SSO) GetIdentityExchangeTimeout() time.Duration {
	return GetEnvDuration("IDENTITY_EXCHANGE_TIMEOUT", 10*time.Second)
}

func domainEndpoint(domain, path string) string {
	if domain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s%s", domain, path)
}
