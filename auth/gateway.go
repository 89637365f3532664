package auth

import "github.com/jrsteele09/go-session-guard/users"

// LogoutReason says why a tab's session ended.
type LogoutReason string

const (
	ReasonUser       LogoutReason = "user"
	ReasonInactivity LogoutReason = "inactivity"
	ReasonExpired    LogoutReason = "expired"
	ReasonSuperseded LogoutReason = "superseded"
	ReasonSignedOut  LogoutReason = "signed_out_elsewhere"
)

// Gateway is the application's login/logout surface. The Tab calls it; it
// must not call back into the Tab synchronously.
type Gateway interface {
	// Logout is called once for every session the tab tears down.
	Logout(reason LogoutReason)
	// OnLoginSuccess is called after a session is established.
	OnLoginSuccess(identity users.Identity)
}

// NopGateway is used when no gateway is supplied.
type NopGateway struct{}

var _ Gateway = NopGateway{}

func (NopGateway) Logout(LogoutReason)           {}
func (NopGateway) OnLoginSuccess(users.Identity) {}

// GatewayFuncs adapts plain functions to Gateway. Nil fields are skipped.
type GatewayFuncs struct {
	LogoutFunc func(reason LogoutReason)
	LoginFunc  func(identity users.Identity)
}

var _ Gateway = GatewayFuncs{}

func (g GatewayFuncs) Logout(reason LogoutReason) {
	if g.LogoutFunc != nil {
		g.LogoutFunc(reason)
	}
}

func (g GatewayFuncs) OnLoginSuccess(identity users.Identity) {
	if g.LoginFunc != nil {
		g.LoginFunc(identity)
	}
}
