// Package inactivity implements the per-tab inactivity state machine. The
// machine is driven by an absolute deadline derived from the last activity
// time, so a suspended host cannot desynchronise the countdown.
package inactivity

import "time"

// State is the phase of the inactivity machine.
type State int

const (
	// Active means the user has been seen recently.
	Active State = iota
	// Warning means the deadline is near and the prompt is showing.
	Warning
	// Expired is terminal. A new session starts a new Timer.
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// WarningState is what the warning prompt renders.
type WarningState struct {
	Visible          bool
	RemainingSeconds int
}

// Config holds the machine's durations.
type Config struct {
	Timeout         time.Duration
	WarningDuration time.Duration
	TickInterval    time.Duration
}

// DefaultConfig returns a 30 minute timeout with a 100 second warning.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Minute,
		WarningDuration: 100 * time.Second,
		TickInterval:    time.Second,
	}
}

func (c Config) validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidConfig
	}
	if c.WarningDuration < 0 || c.WarningDuration > c.Timeout {
		return ErrInvalidConfig
	}
	return nil
}

// remainingSeconds rounds the time left up to whole seconds.
func remainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
