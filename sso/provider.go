package sso

import (
	"strings"

	"github.com/jrsteele09/go-session-guard/internal/config"
)

// ProviderConfig is everything needed to build an authorization redirect.
// AuthorizationEndpoint may be left empty when Issuer supports discovery.
type ProviderConfig struct {
	ClientID              string
	RedirectURI           string
	Scope                 string
	ResponseType          string
	AuthorizationEndpoint string
	Issuer                string
}

// ProvidersFromConfig converts the environment settings.
func ProvidersFromConfig(cfg config.SSOConfig) map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	for name, p := range cfg.GetSSOProviders() {
		providers[name] = ProviderConfig(p)
	}
	return providers
}

// missing lists the fields that stop the provider from being usable.
func (p ProviderConfig) missing() []string {
	var fields []string
	if strings.TrimSpace(p.ClientID) == "" {
		fields = append(fields, "client_id")
	}
	if strings.TrimSpace(p.RedirectURI) == "" {
		fields = append(fields, "redirect_uri")
	}
	if strings.TrimSpace(p.Scope) == "" {
		fields = append(fields, "scope")
	}
	if p.AuthorizationEndpoint == "" && p.Issuer == "" {
		fields = append(fields, "authorization_endpoint")
	}
	return fields
}

func (p ProviderConfig) responseType() string {
	if p.ResponseType == "" {
		return "code"
	}
	return p.ResponseType
}
