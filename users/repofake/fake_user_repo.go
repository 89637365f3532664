package fakeuserrepo

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

var ErrEmailTaken = errors.New("email already registered")

// FakeUserRepo keeps users in memory. Callers always receive copies.
type FakeUserRepo struct {
	users    map[string]users.User
	emailIds map[string]string // normalized email to user id
	lock     sync.RWMutex
	nowTime  func() time.Time
}

type Option func(*FakeUserRepo)

func WithNowTime(now func() time.Time) Option {
	return func(ur *FakeUserRepo) {
		ur.nowTime = now
	}
}

func NewFakeUserRepo(opts ...Option) *FakeUserRepo {
	ur := &FakeUserRepo{
		users:    make(map[string]users.User),
		emailIds: make(map[string]string),
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(ur)
	}
	return ur
}

// Upsert stores user, assigning an id and join date when missing. A user
// whose email changes is re-indexed under the new address.
func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.DateJoined.IsZero() {
		user.DateJoined = ur.nowTime()
	}
	email := users.NormalizeEmail(user.Email)
	if id, taken := ur.emailIds[email]; taken && id != user.ID {
		return interr.Wrapf(ErrEmailTaken, "[Upsert] %s", email)
	}
	if previous, ok := ur.users[user.ID]; ok {
		delete(ur.emailIds, users.NormalizeEmail(previous.Email))
	}
	ur.users[user.ID] = *user
	ur.emailIds[email] = user.ID
	return nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIds[users.NormalizeEmail(email)]
	if !ok {
		return nil, interr.ErrUserNotFound
	}
	u := ur.users[id]
	return &u, nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, interr.ErrUserNotFound
	}
	return &u, nil
}

func (ur *FakeUserRepo) SetBlocked(email string, blocked bool) error {
	return ur.update(email, func(u *users.User) { u.Blocked = blocked })
}

func (ur *FakeUserRepo) SetLastLogin(email string) error {
	return ur.update(email, func(u *users.User) { u.LastLogin = ur.nowTime() })
}

func (ur *FakeUserRepo) update(email string, apply func(*users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	id, ok := ur.emailIds[users.NormalizeEmail(email)]
	if !ok {
		return interr.ErrUserNotFound
	}
	u := ur.users[id]
	apply(&u)
	ur.users[id] = u
	return nil
}
