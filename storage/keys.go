package storage

// Semantic keys of the shared scope. Every tab of the origin reads and
// writes the same names.
const (
	KeySessionExpiry    = "session-expiry"
	KeySessionID        = "session-id"
	KeySessionUserID    = "session-user-id"
	KeySessionCreatedAt = "session-created-at"
	KeySSONonce         = "sso-nonce"
	KeyLastActivity     = "last-activity"
	KeyAuthToken        = "auth-token"
	KeyCurrentUser      = "current-user"

	// BroadcastKeyPrefix namespaces the keys used as a message transport.
	BroadcastKeyPrefix = "broadcast:"
)
