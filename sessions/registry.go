package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/broadcast"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Invalidation tells a tab that the session it remembered is gone.
type Invalidation struct {
	UserID    string
	SessionID string
	Topic     broadcast.Topic
	Reason    string
}

// Registry enforces one active session per user. The persisted session in
// the shared store is authoritative; the registry keeps a local mirror of
// userID -> sessionID for this tab and refreshes it from broadcasts. The
// stored session id acts as a fencing token: a tab whose remembered id no
// longer matches the store has been superseded.
type Registry struct {
	store       *Store
	broadcaster broadcast.Broadcaster
	clock       clock.Clock
	lifetime    time.Duration

	mu          sync.Mutex
	active      map[string]string // userID -> sessionID
	handlers    map[uint64]func(Invalidation)
	nextHandler uint64
	unsubscribe []func()
}

// CreateOption customises a single CreateSession call.
type CreateOption func(*createOptions)

type createOptions struct {
	lifetime time.Duration
}

// WithLifetime overrides the absolute lifetime of the new session.
func WithLifetime(d time.Duration) CreateOption {
	return func(o *createOptions) {
		if d > 0 {
			o.lifetime = d
		}
	}
}

// NewRegistry creates a registry and starts observing broadcasts.
func NewRegistry(store *Store, b broadcast.Broadcaster, clk clock.Clock, lifetime time.Duration) (*Registry, error) {
	if store == nil {
		return nil, errors.New("[NewRegistry] store is required")
	}
	if b == nil {
		return nil, errors.New("[NewRegistry] broadcaster is required")
	}
	if clk == nil {
		clk = clock.Real()
	}

	r := &Registry{
		store:       store,
		broadcaster: b,
		clock:       clk,
		lifetime:    lifetime,
		active:      make(map[string]string),
		handlers:    make(map[uint64]func(Invalidation)),
	}
	r.unsubscribe = []func(){
		b.Subscribe(broadcast.TopicSessionInvalidated, r.onSessionEnded),
		b.Subscribe(broadcast.TopicSessionExpired, r.onSessionEnded),
		b.Subscribe(broadcast.TopicAuthTokenCleared, r.onAuthTokenCleared),
	}
	return r, nil
}

// CreateSession mints a new session for userID, persists it, remembers it
// locally and broadcasts the invalidation of the session it superseded.
// Calling it twice for the same user yields two distinct ids; only the
// second is valid afterwards.
func (r *Registry) CreateSession(userID string, opts ...CreateOption) (Session, error) {
	if userID == "" {
		return Session{}, errors.New("[CreateSession] userID is required")
	}

	o := createOptions{lifetime: r.lifetime}
	for _, opt := range opts {
		opt(&o)
	}

	previous, hadPrevious, err := r.store.Session()
	if err != nil {
		return Session{}, errors.Wrap(err, "[CreateSession] read previous session")
	}

	now := r.clock.Now()
	session := Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(o.lifetime),
	}

	r.mu.Lock()
	if err := r.store.SaveSession(session); err != nil {
		r.mu.Unlock()
		return Session{}, errors.Wrap(err, "[CreateSession] persist session")
	}
	r.active[userID] = session.ID
	if hadPrevious && previous.UserID != userID && r.active[previous.UserID] == previous.ID {
		delete(r.active, previous.UserID)
	}
	r.mu.Unlock()

	log.Info().Str("user_id", userID).Str("session_id", session.ID).Time("expires_at", session.ExpiresAt).Msg("Session created")

	if hadPrevious && previous.ID != session.ID {
		err := r.broadcaster.Publish(broadcast.TopicSessionInvalidated, broadcast.Payload{
			UserID:    previous.UserID,
			SessionID: previous.ID,
			Reason:    "superseded",
		})
		if err != nil {
			// Delivery is best effort; the superseded tab still detects the
			// mismatch on its next validity check.
			log.Warn().Err(err).Str("session_id", previous.ID).Msg("Failed to broadcast session invalidation")
		}
	}
	return session, nil
}

// IsValid reports whether the stored session belongs to userID, is not
// expired, and is the session this tab remembers for the user.
func (r *Registry) IsValid(userID string) bool {
	r.mu.Lock()
	remembered, ok := r.active[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.Check(userID, remembered)
}

// Check validates an explicit session id against the stored session.
func (r *Registry) Check(userID, sessionID string) bool {
	if userID == "" || sessionID == "" {
		return false
	}
	stored, ok, err := r.store.Session()
	if err != nil {
		log.Warn().Err(err).Msg("Session validity check failed to read store")
		return false
	}
	return ok &&
		stored.UserID == userID &&
		stored.ID == sessionID &&
		!stored.IsExpired(r.clock.Now())
}

// Restore adopts a still-valid stored session into the local mirror, as a
// newly opened tab does.
func (r *Registry) Restore() (Session, bool) {
	stored, ok, err := r.store.Session()
	if err != nil || !ok || stored.IsExpired(r.clock.Now()) {
		return Session{}, false
	}
	r.mu.Lock()
	r.active[stored.UserID] = stored.ID
	r.mu.Unlock()
	return stored, true
}

// ActiveSession returns the session id this tab remembers for userID.
func (r *Registry) ActiveSession(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[userID]
	return id, ok
}

// Forget drops the local mirror entry for userID.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, userID)
}

// Clear removes every session key from the store and empties the mirror.
// It succeeds on an already-empty store. When a session was stored, the
// other tabs are told with auth-token-cleared.
func (r *Registry) Clear() (bool, error) {
	previous, _, err := r.store.Session()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read session before clearing")
	}

	r.mu.Lock()
	r.active = make(map[string]string)
	r.mu.Unlock()

	hadSession, err := r.store.Clear()
	if err != nil || !hadSession {
		return hadSession, err
	}

	err = r.broadcaster.Publish(broadcast.TopicAuthTokenCleared, broadcast.Payload{
		UserID:    previous.UserID,
		SessionID: previous.ID,
		Reason:    "cleared",
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", previous.ID).Msg("Failed to broadcast session clear")
	}
	return true, nil
}

// OnInvalidated registers h for sessions this tab remembered that another
// tab ended. h runs on the broadcast delivery goroutine.
func (r *Registry) OnInvalidated(h func(Invalidation)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextHandler
	r.nextHandler++
	r.handlers[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

// Close stops observing broadcasts.
func (r *Registry) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	for _, u := range unsubscribe {
		u()
	}
}

// onSessionEnded handles invalidation and expiry notices. Notices for
// sessions this tab does not remember, including repeats, are ignored.
func (r *Registry) onSessionEnded(msg broadcast.Message) {
	r.mu.Lock()
	remembered, ok := r.active[msg.UserID]
	if !ok || (msg.SessionID != "" && remembered != msg.SessionID) {
		r.mu.Unlock()
		return
	}
	delete(r.active, msg.UserID)
	r.mu.Unlock()

	log.Info().Str("user_id", msg.UserID).Str("session_id", remembered).Str("topic", string(msg.Topic)).Msg("Session ended by another tab")
	r.notify(Invalidation{UserID: msg.UserID, SessionID: remembered, Topic: msg.Topic, Reason: msg.Reason})
}

// onAuthTokenCleared drops every remembered session that is no longer the
// stored one. A session re-created in the meantime is kept.
func (r *Registry) onAuthTokenCleared(msg broadcast.Message) {
	storedID, _, err := r.store.SessionID()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read session after auth token was cleared")
	}

	var ended []Invalidation
	r.mu.Lock()
	for userID, sessionID := range r.active {
		if sessionID == storedID {
			continue
		}
		delete(r.active, userID)
		ended = append(ended, Invalidation{UserID: userID, SessionID: sessionID, Topic: msg.Topic, Reason: msg.Reason})
	}
	r.mu.Unlock()

	for _, inv := range ended {
		log.Info().Str("user_id", inv.UserID).Str("session_id", inv.SessionID).Msg("Auth token cleared by another tab")
		r.notify(inv)
	}
}

func (r *Registry) notify(inv Invalidation) {
	r.mu.Lock()
	handlers := make([]func(Invalidation), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(inv)
	}
}
