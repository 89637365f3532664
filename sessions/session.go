package sessions

import "time"

// Session is the authenticated state shared by every tab. Expiry is
// absolute: activity never extends it.
type Session struct {
	ID        string    // Opaque session token (UUID), also the fencing token
	UserID    string    // User the session belongs to
	CreatedAt time.Time // When the session was minted
	ExpiresAt time.Time // Absolute expiry
}

// IsExpired reports whether the session is past its absolute expiry at now.
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Nonce is the single-use CSRF value bound to one pending SSO authorization.
type Nonce struct {
	Value     string    `json:"value"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired tells if the nonce is past its short lifetime
func (n Nonce) IsExpired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}
