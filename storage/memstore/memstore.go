// Package memstore is an in-memory storage scope. Every tab opens its own
// view; writes through one view are notified to all the others.
package memstore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/internal/dispatch"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/storage"
)

// Scope is the shared key space, the analogue of one origin's local storage.
type Scope struct {
	mu     sync.RWMutex
	values map[string]string
	views  map[string]*View
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{
		values: make(map[string]string),
		views:  make(map[string]*View),
	}
}

// Open returns a new view on the scope.
func (s *Scope) Open() *View {
	v := &View{
		id:     uuid.NewString(),
		scope:  s,
		events: dispatch.NewQueue[storage.Change](),
	}
	s.mu.Lock()
	s.views[v.id] = v
	s.mu.Unlock()
	return v
}

// Snapshot returns a copy of every stored key and value.
func (s *Scope) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// View is one tab's handle on a Scope.
type View struct {
	id     string
	scope  *Scope
	events *dispatch.Queue[storage.Change]

	mu     sync.Mutex
	closed bool
}

var _ storage.Store = (*View)(nil)

func (v *View) Get(key string) (string, bool, error) {
	if v.isClosed() {
		return "", false, interr.ErrClosed
	}
	v.scope.mu.RLock()
	defer v.scope.mu.RUnlock()
	value, ok := v.scope.values[key]
	return value, ok, nil
}

func (v *View) Set(key, value string) error {
	if v.isClosed() {
		return interr.ErrClosed
	}
	v.scope.mu.Lock()
	defer v.scope.mu.Unlock()

	if current, ok := v.scope.values[key]; ok && current == value {
		return nil
	}
	v.scope.values[key] = value
	v.scope.notifyLocked(v.id, storage.Change{Key: key, Value: value})
	return nil
}

func (v *View) Remove(key string) error {
	if v.isClosed() {
		return interr.ErrClosed
	}
	v.scope.mu.Lock()
	defer v.scope.mu.Unlock()

	if _, ok := v.scope.values[key]; !ok {
		return nil
	}
	delete(v.scope.values, key)
	v.scope.notifyLocked(v.id, storage.Change{Key: key, Removed: true})
	return nil
}

func (v *View) Subscribe(h func(storage.Change)) func() {
	return v.events.Subscribe(h)
}

func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.scope.mu.Lock()
	delete(v.scope.views, v.id)
	v.scope.mu.Unlock()

	v.events.Close()
	return nil
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// notifyLocked queues change for every view except the writer. Must be
// called with s.mu held so notifications keep write order.
func (s *Scope) notifyLocked(writer string, change storage.Change) {
	for id, view := range s.views {
		if id == writer {
			continue
		}
		view.events.Enqueue(change)
	}
}
