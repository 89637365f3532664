package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the session core and the identity backend
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrUserNotFound       = errors.New("user not found")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Authorization code errors
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")
	ErrInvalidClient            = errors.New("invalid client")
	ErrInvalidRedirectURI       = errors.New("invalid redirect URI")

	// Session errors
	ErrSessionExpired = errors.New("session expired")

	// General errors
	ErrClosed = errors.New("closed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
