package sso

import (
	"errors"
	"fmt"
)

// Kind classifies an SSO failure.
type Kind int

const (
	// KindConfiguration means the provider is unknown or incomplete. It is
	// reported before any redirect and is not retryable.
	KindConfiguration Kind = iota
	// KindProvider means the identity provider or backend refused the login.
	KindProvider
	// KindCsrfMismatch means the callback state did not match a live nonce.
	KindCsrfMismatch
	// KindMissingParameters means the callback lacked a code or state.
	KindMissingParameters
	// KindNetwork means the identity exchange failed or timed out.
	KindNetwork
)

var (
	ErrConfiguration     = errors.New("sso provider not configured")
	ErrProvider          = errors.New("identity provider error")
	ErrCsrfMismatch      = errors.New("sso state mismatch")
	ErrMissingParameters = errors.New("sso callback missing parameters")
	ErrNetwork           = errors.New("identity exchange failed")
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProvider:
		return "provider"
	case KindCsrfMismatch:
		return "csrf_mismatch"
	case KindMissingParameters:
		return "missing_parameters"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindProvider:
		return ErrProvider
	case KindCsrfMismatch:
		return ErrCsrfMismatch
	case KindMissingParameters:
		return ErrMissingParameters
	default:
		return ErrNetwork
	}
}

// Error is returned by every failing Flow operation. Its message is meant
// for logs; show users UserMessage instead. It never carries nonce values.
type Error struct {
	Kind     Kind
	Provider string
	cause    error
}

func newError(kind Kind, provider string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the Kind of err, or false when err is not an SSO error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// UserMessage is the only text shown to the user for any SSO failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return "authentication failed"
}
