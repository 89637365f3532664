package auth

import "errors"

var (
	PasswordLoginUnavailableErr = errors.New("password login not configured")
	TabClosedErr                = errors.New("tab closed")
)
