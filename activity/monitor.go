// Package activity records user input and shares the last-activity time
// between tabs.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/sessions"
	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// EventKind is the type of a raw input event.
type EventKind int

const (
	PointerMove EventKind = iota
	PointerDown
	KeyDown
	Scroll
	TouchStart
	// Manual is activity asserted by the application rather than raw input.
	Manual
)

func (k EventKind) String() string {
	switch k {
	case PointerMove:
		return "pointermove"
	case PointerDown:
		return "pointerdown"
	case KeyDown:
		return "keydown"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touchstart"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseEventKind maps a raw input event name to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k := PointerMove; k <= TouchStart; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Event is one raw input event.
type Event struct {
	Kind EventKind
}

// Source produces input events until its channel is closed.
type Source interface {
	Events() <-chan Event
}

// Monitor stamps input events with the clock and fans the resulting
// last-activity time out to listeners. Persistence to the shared store is
// throttled; the latest time is always flushed once the throttle window
// ends. Newer times written by sibling tabs are forwarded to listeners too.
type Monitor struct {
	store   *sessions.Store
	clock   clock.Clock
	limiter *rate.Limiter
	every   time.Duration

	mu          sync.Mutex
	last        time.Time
	persisted   time.Time
	flush       *clock.Timer
	listeners   map[uint64]func(time.Time)
	nextID      uint64
	unsubscribe func()
	closed      bool
}

// NewMonitor creates a monitor persisting at most once per persistEvery.
// A zero interval persists every event.
func NewMonitor(store *sessions.Store, clk clock.Clock, persistEvery time.Duration) *Monitor {
	limit := rate.Inf
	if persistEvery > 0 {
		limit = rate.Every(persistEvery)
	}
	m := &Monitor{
		store:     store,
		clock:     clk,
		limiter:   rate.NewLimiter(limit, 1),
		every:     persistEvery,
		listeners: make(map[uint64]func(time.Time)),
	}
	if last, ok, err := store.LastActivity(); err == nil && ok {
		m.last = last
		m.persisted = last
	}
	m.unsubscribe = store.KV().Subscribe(m.onChange)
	return m
}

// OnActivity registers h for every new last-activity time, local or from a
// sibling tab.
func (m *Monitor) OnActivity(h func(time.Time)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// LastActivity returns the newest activity time known to this tab.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Record registers one input event and returns its timestamp.
func (m *Monitor) Record(kind EventKind) time.Time {
	now := m.clock.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return now
	}
	if now.After(m.last) {
		m.last = now
	}
	persist := m.limiter.AllowN(now, 1)
	if !persist && m.flush == nil && m.every > 0 {
		m.flush = m.clock.AfterFunc(m.every, m.flushPending)
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	if persist {
		m.persist(now)
	}
	log.Trace().Str("kind", kind.String()).Time("at", now).Msg("Activity recorded")
	for _, h := range listeners {
		h(now)
	}
	return now
}

// Watch records every event from src until ctx is done or src is drained.
func (m *Monitor) Watch(ctx context.Context, src Source) error {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Record(ev.Kind)
		}
	}
}

// Close stops observing siblings and flushes any throttled timestamp.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.flush.Stop()
	m.flush = nil
	pending := m.last.After(m.persisted)
	last := m.last
	m.mu.Unlock()

	m.unsubscribe()
	if pending {
		m.persist(last)
	}
}

func (m *Monitor) flushPending() {
	m.mu.Lock()
	m.flush = nil
	if m.closed || !m.last.After(m.persisted) {
		m.mu.Unlock()
		return
	}
	last := m.last
	m.mu.Unlock()

	m.persist(last)
}

func (m *Monitor) persist(at time.Time) {
	m.mu.Lock()
	if !at.After(m.persisted) {
		m.mu.Unlock()
		return
	}
	m.persisted = at
	m.mu.Unlock()

	if err := m.store.SetLastActivity(at); err != nil {
		log.Warn().Err(err).Msg("Failed to persist last activity")
	}
}

func (m *Monitor) onChange(change storage.Change) {
	if change.Key != storage.KeyLastActivity || change.Removed {
		return
	}
	at, ok, err := sessions.ParseActivity(change.Value)
	if err != nil || !ok {
		return
	}

	m.mu.Lock()
	if m.closed || !at.After(m.last) {
		m.mu.Unlock()
		return
	}
	m.last = at
	if at.After(m.persisted) {
		m.persisted = at
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	for _, h := range listeners {
		h(at)
	}
}

func (m *Monitor) snapshotLocked() []func(time.Time) {
	out := make([]func(time.Time), 0, len(m.listeners))
	for _, h := range m.listeners {
		out = append(out, h)
	}
	return out
}
