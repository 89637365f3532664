package users

import "strings"

// UserRepo stores the backend's accounts. Emails are matched case-insensitively.
type UserRepo interface {
	Upsert(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)
	SetBlocked(email string, blocked bool) error
	SetLastLogin(email string) error
}

// NormalizeEmail is the lookup key for an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
