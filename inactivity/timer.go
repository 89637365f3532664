package inactivity

import (
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig is returned for a non-positive timeout or a warning
// longer than the timeout.
var ErrInvalidConfig = errors.New("invalid inactivity configuration")

// Timer is the Active/Warning/Expired machine for one session in one tab.
// Every reset bumps a generation counter and cancels the pending warning,
// expiry and tick callbacks; a callback from an older generation that still
// runs is discarded. onExpired runs at most once.
type Timer struct {
	cfg       Config
	clock     clock.Clock
	onExpired func()

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	deadline     time.Time
	generation   uint64
	warnTimer    *clock.Timer
	expireTimer  *clock.Timer
	tickTimer    *clock.Timer
	stopped      bool

	handlersMu    sync.Mutex
	stateHandlers map[uint64]func(State)
	tickHandlers  map[uint64]func(WarningState)
	nextHandler   uint64
}

// Option configures a Timer.
type Option func(*Timer)

// WithLastActivity starts the machine from an earlier activity time, such
// as the one persisted by a sibling tab.
func WithLastActivity(at time.Time) Option {
	return func(t *Timer) {
		if !at.IsZero() {
			t.lastActivity = at
		}
	}
}

// New starts a machine whose last activity is now. onExpired is called once
// when the machine expires; it must not call back into the Timer while
// holding locks the Timer's callers hold.
func New(clk clock.Clock, cfg Config, onExpired func(), opts ...Option) (*Timer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if onExpired == nil {
		onExpired = func() {}
	}

	t := &Timer{
		cfg:           cfg,
		clock:         clk,
		onExpired:     onExpired,
		lastActivity:  clk.Now(),
		stateHandlers: make(map[uint64]func(State)),
		tickHandlers:  make(map[uint64]func(WarningState)),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.mu.Lock()
	t.deadline = t.lastActivity.Add(cfg.Timeout)
	expireNow := t.armLocked()
	gen := t.generation
	t.mu.Unlock()

	if expireNow {
		t.expire(gen)
	}
	return t, nil
}

// OnStateChange registers h for every transition.
func (t *Timer) OnStateChange(h func(State)) func() {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.stateHandlers[id] = h
	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		delete(t.stateHandlers, id)
	}
}

// OnTick registers h for the once-per-interval countdown while in Warning.
func (t *Timer) OnTick(h func(WarningState)) func() {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.tickHandlers[id] = h
	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		delete(t.tickHandlers, id)
	}
}

// State returns the current phase.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Deadline returns the current inactivity deadline.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Prompt returns the warning prompt's render data. RemainingSeconds is
// recomputed from the deadline on every call.
func (t *Timer) Prompt() WarningState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.promptLocked()
}

// Reset records activity at at and moves the deadline. Activity older than
// what the machine already knows is ignored. It reports whether the machine
// is still live.
func (t *Timer) Reset(at time.Time) bool {
	t.mu.Lock()
	if t.stopped || t.state == Expired {
		t.mu.Unlock()
		return false
	}
	if at.Before(t.lastActivity) {
		t.mu.Unlock()
		return true
	}

	previous := t.state
	t.lastActivity = at
	t.deadline = at.Add(t.cfg.Timeout)
	expireNow := t.armLocked()
	gen := t.generation
	current := t.state
	t.mu.Unlock()

	if expireNow {
		t.expire(gen)
		return false
	}
	if current != previous {
		log.Debug().Str("from", previous.String()).Str("to", current.String()).Msg("Inactivity state reset")
		t.notifyState(current)
	}
	return true
}

// StaySignedIn dismisses the warning as if the user had just been active.
// It loses to an expiry that has already begun.
func (t *Timer) StaySignedIn() bool {
	return t.Reset(t.clock.Now())
}

// Stop cancels all pending callbacks without expiring.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.generation++
	t.cancelLocked()
}

// armLocked cancels every pending callback and schedules the ones the new
// deadline needs. It reports true when the deadline has already passed; the
// caller must then expire the machine after releasing the lock.
func (t *Timer) armLocked() bool {
	t.generation++
	gen := t.generation
	t.cancelLocked()

	now := t.clock.Now()
	if !now.Before(t.deadline) {
		return true
	}

	warnAt := t.deadline.Add(-t.cfg.WarningDuration)
	if now.Before(warnAt) {
		t.state = Active
		t.warnTimer = t.clock.AfterFunc(warnAt.Sub(now), func() { t.enterWarning(gen) })
	} else {
		t.state = Warning
		t.tickTimer = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.tick(gen) })
	}
	t.expireTimer = t.clock.AfterFunc(t.deadline.Sub(now), func() { t.expire(gen) })
	return false
}

func (t *Timer) cancelLocked() {
	t.warnTimer.Stop()
	t.expireTimer.Stop()
	t.tickTimer.Stop()
	t.warnTimer, t.expireTimer, t.tickTimer = nil, nil, nil
}

func (t *Timer) enterWarning(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.generation || t.state != Active {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	if !now.Before(t.deadline) {
		// The host slept through the warning window.
		t.mu.Unlock()
		t.expire(gen)
		return
	}
	t.state = Warning
	t.tickTimer = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.tick(gen) })
	prompt := t.promptLocked()
	t.mu.Unlock()

	log.Info().Int("remaining_seconds", prompt.RemainingSeconds).Msg("Inactivity warning")
	t.notifyState(Warning)
	t.notifyTick(prompt)
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.generation || t.state != Warning {
		t.mu.Unlock()
		return
	}
	if !t.clock.Now().Before(t.deadline) {
		t.mu.Unlock()
		t.expire(gen)
		return
	}
	t.tickTimer = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.tick(gen) })
	prompt := t.promptLocked()
	t.mu.Unlock()

	t.notifyTick(prompt)
}

// expire moves to Expired. A callback from a superseded generation is
// discarded.
func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || t.state == Expired || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.state = Expired
	t.generation++
	t.cancelLocked()
	idle := t.clock.Now().Sub(t.lastActivity)
	t.mu.Unlock()

	log.Info().Dur("idle", idle).Msg("Inactivity timeout reached")
	t.notifyState(Expired)
	t.onExpired()
}

func (t *Timer) promptLocked() WarningState {
	if t.state != Warning {
		return WarningState{}
	}
	return WarningState{Visible: true, RemainingSeconds: remainingSeconds(t.deadline, t.clock.Now())}
}

func (t *Timer) notifyState(s State) {
	t.handlersMu.Lock()
	handlers := make([]func(State), 0, len(t.stateHandlers))
	for _, h := range t.stateHandlers {
		handlers = append(handlers, h)
	}
	t.handlersMu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

func (t *Timer) notifyTick(ws WarningState) {
	t.handlersMu.Lock()
	handlers := make([]func(WarningState), 0, len(t.tickHandlers))
	for _, h := range t.tickHandlers {
		handlers = append(handlers, h)
	}
	t.handlersMu.Unlock()
	for _, h := range handlers {
		h(ws)
	}
}
