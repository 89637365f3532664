package authflowrepo

import (
	"errors"
	"sync"
	"time"

	interr "github.com/jrsteele09/go-session-guard/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu    sync.Mutex
	codes map[string]*AuthCode
}

// NewInMemoryRepo creates a new in-memory authorization code repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		codes: make(map[string]*AuthCode),
	}
}

// Upsert stores or replaces an authorization code
func (r *InMemoryRepo) Upsert(code *AuthCode) error {
	if code == nil {
		return errors.New("code cannot be nil")
	}
	if code.Code == "" {
		return errors.New("code cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to prevent external modifications
	c := *code
	r.codes[code.Code] = &c
	return nil
}

// Consume removes the code and returns it if it has not expired
func (r *InMemoryRepo) Consume(code string, now time.Time) (*AuthCode, error) {
	if code == "" {
		return nil, interr.ErrInvalidAuthorizationCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.codes[code]
	if !exists {
		return nil, interr.ErrInvalidAuthorizationCode
	}
	delete(r.codes, code)

	if !now.Before(stored.ExpiresAt) {
		return nil, interr.Wrapf(interr.ErrInvalidAuthorizationCode, "code expired at %s", stored.ExpiresAt.Format(time.RFC3339))
	}
	c := *stored
	return &c, nil
}

func (r *InMemoryRepo) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, c := range r.codes {
		if !now.Before(c.ExpiresAt) {
			delete(r.codes, k)
			n++
		}
	}
	return n
}
