package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/jrsteele09/go-session-guard/users"
)

// sessionKeys are removed by Clear. The SSO nonce and the activity
// timestamp are not session state and survive a logout.
var sessionKeys = []string{
	storage.KeySessionID,
	storage.KeySessionUserID,
	storage.KeySessionExpiry,
	storage.KeySessionCreatedAt,
	storage.KeyAuthToken,
	storage.KeyCurrentUser,
}

// Store is a typed view of the session keys in the shared scope.
type Store struct {
	kv storage.Store
}

// NewStore wraps kv.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// KV exposes the underlying scope for components that observe raw changes.
func (s *Store) KV() storage.Store {
	return s.kv
}

// Session reads the stored session record. ok is false when no session id
// or user id is stored. A missing or unreadable expiry yields a zero
// ExpiresAt, which is always expired.
func (s *Store) Session() (Session, bool, error) {
	id, ok, err := s.kv.Get(storage.KeySessionID)
	if err != nil || !ok || id == "" {
		return Session{}, false, err
	}
	userID, ok, err := s.kv.Get(storage.KeySessionUserID)
	if err != nil || !ok || userID == "" {
		return Session{}, false, err
	}

	session := Session{ID: id, UserID: userID}
	if raw, ok, err := s.kv.Get(storage.KeySessionExpiry); err != nil {
		return Session{}, false, err
	} else if ok {
		session.ExpiresAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw, ok, err := s.kv.Get(storage.KeySessionCreatedAt); err != nil {
		return Session{}, false, err
	} else if ok {
		session.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return session, true, nil
}

// SaveSession writes the record. The id is written last so a reader that
// sees the new id also sees the new owner and expiry.
func (s *Store) SaveSession(session Session) error {
	writes := []struct{ key, value string }{
		{storage.KeySessionUserID, session.UserID},
		{storage.KeySessionExpiry, session.ExpiresAt.UTC().Format(time.RFC3339Nano)},
		{storage.KeySessionCreatedAt, session.CreatedAt.UTC().Format(time.RFC3339Nano)},
		{storage.KeySessionID, session.ID},
	}
	for _, w := range writes {
		if err := s.kv.Set(w.key, w.value); err != nil {
			return fmt.Errorf("[SaveSession] %s: %w", w.key, err)
		}
	}
	return nil
}

// SessionID returns only the stored session id.
func (s *Store) SessionID() (string, bool, error) {
	return s.kv.Get(storage.KeySessionID)
}

// Clear removes every session key. It is idempotent; hadSession reports
// whether a session record was present beforehand.
func (s *Store) Clear() (hadSession bool, err error) {
	_, hadSession, err = s.kv.Get(storage.KeySessionID)
	if err != nil {
		return false, fmt.Errorf("[Clear] %w", err)
	}

	var errs []error
	for _, key := range sessionKeys {
		if err := s.kv.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return hadSession, fmt.Errorf("[Clear] %w", errors.Join(errs...))
	}
	return hadSession, nil
}

// LastActivity returns the last recorded input time of any tab.
func (s *Store) LastActivity() (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(storage.KeyLastActivity)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return ParseActivity(raw)
}

// SetLastActivity stores t as epoch milliseconds.
func (s *Store) SetLastActivity(t time.Time) error {
	return s.kv.Set(storage.KeyLastActivity, strconv.FormatInt(t.UnixMilli(), 10))
}

// ParseActivity decodes a stored last-activity value.
func ParseActivity(raw string) (time.Time, bool, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("[ParseActivity] %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SaveNonce persists the pending SSO nonce, replacing any previous one.
func (s *Store) SaveNonce(n Nonce) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("[SaveNonce] %w", err)
	}
	return s.kv.Set(storage.KeySSONonce, string(data))
}

// ConsumeNonce reads and deletes the pending nonce. The delete happens even
// when the read fails or the stored value is corrupt, so a nonce can never
// be observed twice.
func (s *Store) ConsumeNonce() (Nonce, bool, error) {
	raw, ok, getErr := s.kv.Get(storage.KeySSONonce)
	removeErr := s.kv.Remove(storage.KeySSONonce)

	if getErr != nil {
		return Nonce{}, false, fmt.Errorf("[ConsumeNonce] read: %w", getErr)
	}
	if removeErr != nil {
		return Nonce{}, false, fmt.Errorf("[ConsumeNonce] remove: %w", removeErr)
	}
	if !ok {
		return Nonce{}, false, nil
	}

	var n Nonce
	if err := json.Unmarshal([]byte(raw), &n); err != nil || n.Value == "" {
		return Nonce{}, false, nil
	}
	return n, true, nil
}

func (s *Store) AuthToken() (string, bool, error) {
	return s.kv.Get(storage.KeyAuthToken)
}

func (s *Store) SetAuthToken(token string) error {
	return s.kv.Set(storage.KeyAuthToken, token)
}

// CurrentUser returns the identity of the logged in user, if any.
func (s *Store) CurrentUser() (users.Identity, bool, error) {
	raw, ok, err := s.kv.Get(storage.KeyCurrentUser)
	if err != nil || !ok {
		return users.Identity{}, false, err
	}
	var identity users.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return users.Identity{}, false, fmt.Errorf("[CurrentUser] %w", err)
	}
	return identity, true, nil
}

func (s *Store) SetCurrentUser(identity users.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("[SetCurrentUser] %w", err)
	}
	return s.kv.Set(storage.KeyCurrentUser, string(data))
}
