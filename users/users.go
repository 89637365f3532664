package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType represents the application role carried in an identity
type RoleType string

const (
	RoleUser  RoleType = "user"
	RoleAdmin RoleType = "admin"
)

// Identity is what the identity-exchange endpoint resolves an authorization
// code or a password login to.
type Identity struct {
	UserID string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Role   RoleType `json:"role"`
}

// User is the backend's stored account. Only the Identity ever leaves the backend.
type User struct {
	ID           string    `json:"id,omitempty"`          // Unique identifier for the user
	Email        string    `json:"email,omitempty"`       // User's email address
	Name         string    `json:"name,omitempty"`        // Display name
	PasswordHash string    `json:"-"`                     // Hashed version of the user's password - never serialize
	Role         RoleType  `json:"role,omitempty"`        // Application role
	DateJoined   time.Time `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time `json:"last_login,omitempty"`  // Last time the user logged in
	Blocked      bool      `json:"blocked,omitempty"`     // Blocked, has the user been blocked from logging in
}

// Identity returns the public identity of the user.
func (u *User) Identity() Identity {
	name := u.Name
	if name == "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	role := u.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: u.ID, Name: name, Email: u.Email, Role: role}
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ParseSeedUsers parses "email:password:role" triples separated by commas.
// Entries with a missing email or password are skipped; weak passwords are
// rejected.
func ParseSeedUsers(seed string) ([]*User, error) {
	var out []*User
	for _, entry := range strings.Split(seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		if err := ValidatePasswordStrength(parts[1]); err != nil {
			return nil, fmt.Errorf("[ParseSeedUsers] weak password for %s: %w", parts[0], err)
		}
		hash, err := HashPassword(parts[1])
		if err != nil {
			return nil, fmt.Errorf("[ParseSeedUsers] hash password for %s: %w", parts[0], err)
		}
		role := RoleUser
		if len(parts) == 3 && parts[2] != "" {
			role = RoleType(parts[2])
		}
		out = append(out, &User{Email: parts[0], PasswordHash: hash, Role: role})
	}
	return out, nil
}
