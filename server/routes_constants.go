package server

// Route path constants
const (
	// Identity exchange used by the session core
	RouteAuthLogin    = "/auth/login"
	RouteAuthSSO      = "/auth/sso"
	RouteAuthValidate = "/auth/validate"
	RouteAuthLogout   = "/auth/logout"

	// Development OIDC provider
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteDevAuthorize          = "/dev/authorize"

	RouteHealth = "/healthz"
)

const contentTypeJSON = "application/json"
