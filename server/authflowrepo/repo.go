// Package authflowrepo holds the single-use authorization codes issued by
// the development authorize endpoint until the session core exchanges them.
package authflowrepo

import "time"

type AuthCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	UserID      string
	ExpiresAt   time.Time
}

type Repo interface {
	Upsert(code *AuthCode) error
	// Consume returns the code and deletes it. A code can be consumed once.
	Consume(code string, now time.Time) (*AuthCode, error)
	// Purge removes every code that expired before now
	Purge(now time.Time) int
}
