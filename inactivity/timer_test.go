package inactivity_test

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-guard/inactivity"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func scenarioConfig() inactivity.Config {
	return inactivity.Config{
		Timeout:         1800 * time.Second,
		WarningDuration: 100 * time.Second,
		TickInterval:    time.Second,
	}
}

type fixture struct {
	clk     *clock.FakeClock
	timer   *inactivity.Timer
	expired atomic.Int32

	mu     sync.Mutex
	states []inactivity.State
	ticks  []int
}

func newFixture(t *testing.T, cfg inactivity.Config, opts ...inactivity.Option) *fixture {
	t.Helper()
	f := &fixture{clk: clock.Fake(epoch)}
	timer, err := inactivity.New(f.clk, cfg, func() { f.expired.Add(1) }, opts...)
	require.NoError(t, err)
	f.timer = timer
	timer.OnStateChange(func(s inactivity.State) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, s)
	})
	timer.OnTick(func(ws inactivity.WarningState) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ticks = append(f.ticks, ws.RemainingSeconds)
	})
	t.Cleanup(timer.Stop)
	return f
}

func (f *fixture) seenStates() []inactivity.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inactivity.State(nil), f.states...)
}

func (f *fixture) seenTicks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ticks...)
}

func TestStaySignedInScenario(t *testing.T) {
	f := newFixture(t, scenarioConfig())

	f.clk.Advance(1699 * time.Second)
	require.Equal(t, inactivity.Active, f.timer.State())
	require.Equal(t, inactivity.WarningState{}, f.timer.Prompt())

	f.clk.Advance(time.Second)
	require.Equal(t, inactivity.Warning, f.timer.State())
	require.Equal(t, inactivity.WarningState{Visible: true, RemainingSeconds: 100}, f.timer.Prompt())

	f.clk.Advance(50 * time.Second)
	require.Equal(t, 50, f.timer.Prompt().RemainingSeconds)
	ticks := f.seenTicks()
	require.Equal(t, 100, ticks[0])
	require.Equal(t, 50, ticks[len(ticks)-1])

	require.True(t, f.timer.StaySignedIn())
	require.Equal(t, inactivity.Active, f.timer.State())
	require.False(t, f.timer.Prompt().Visible)
	require.Equal(t, epoch.Add(3550*time.Second), f.timer.Deadline())

	f.clk.Advance(1799 * time.Second)
	require.Equal(t, int32(0), f.expired.Load(), "no expiry before 1800s after the reset")
	require.Equal(t, inactivity.Warning, f.timer.State())

	f.clk.Advance(time.Second)
	require.Equal(t, int32(1), f.expired.Load())
	require.Equal(t, inactivity.Expired, f.timer.State())
	require.Equal(t, []inactivity.State{
		inactivity.Warning, inactivity.Active, inactivity.Warning, inactivity.Expired,
	}, f.seenStates())
}

func TestIdleExpiresExactlyOnce(t *testing.T) {
	f := newFixture(t, scenarioConfig())

	f.clk.Advance(time.Hour)
	require.Equal(t, int32(1), f.expired.Load())
	require.Equal(t, []inactivity.State{inactivity.Warning, inactivity.Expired}, f.seenStates())

	f.clk.Advance(time.Hour)
	require.False(t, f.timer.Reset(f.clk.Now()), "expired is terminal")
	require.False(t, f.timer.StaySignedIn())
	require.Equal(t, int32(1), f.expired.Load())
	require.Zero(t, f.clk.PendingCount())
}

func TestShortGapsNeverWarn(t *testing.T) {
	cfg := scenarioConfig()
	f := newFixture(t, cfg)
	maxGap := cfg.Timeout - cfg.WarningDuration

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		gap := time.Duration(rng.Int63n(int64(maxGap)))
		f.clk.Advance(gap)
		require.True(t, f.timer.Reset(f.clk.Now()))
	}
	require.Empty(t, f.seenStates())
	require.Empty(t, f.seenTicks())
	require.Equal(t, int32(0), f.expired.Load())
}

func TestActivityDuringWarningDismissesIt(t *testing.T) {
	f := newFixture(t, scenarioConfig())
	f.clk.Advance(1750 * time.Second)
	require.Equal(t, inactivity.Warning, f.timer.State())

	require.True(t, f.timer.Reset(f.clk.Now()))
	require.Equal(t, inactivity.Active, f.timer.State())

	f.clk.Advance(1699 * time.Second)
	require.Equal(t, inactivity.Active, f.timer.State())
}

func TestOlderActivityIsIgnored(t *testing.T) {
	f := newFixture(t, scenarioConfig())
	f.clk.Advance(10 * time.Minute)
	require.True(t, f.timer.Reset(f.clk.Now()))
	deadline := f.timer.Deadline()

	require.True(t, f.timer.Reset(epoch))
	require.Equal(t, deadline, f.timer.Deadline())
}

func TestLateTimerGoesStraightToExpired(t *testing.T) {
	f := newFixture(t, scenarioConfig())

	// The host suspends the process past the whole deadline.
	f.clk.Set(epoch.Add(2 * time.Hour))
	f.clk.Advance(0)

	require.Equal(t, int32(1), f.expired.Load())
	require.Equal(t, []inactivity.State{inactivity.Expired}, f.seenStates())
	require.Empty(t, f.seenTicks())
}

func TestCountdownDerivesFromDeadline(t *testing.T) {
	f := newFixture(t, scenarioConfig())
	f.clk.Advance(1700 * time.Second)

	// Ticks were throttled while the host slept; the prompt still reads the
	// deadline.
	f.clk.Set(epoch.Add(1790*time.Second + 300*time.Millisecond))
	require.Equal(t, 10, f.timer.Prompt().RemainingSeconds)
}

func TestStaleActivityExpiresOnStart(t *testing.T) {
	f := newFixture(t, scenarioConfig(), inactivity.WithLastActivity(epoch.Add(-time.Hour)))
	require.Equal(t, inactivity.Expired, f.timer.State())
	require.Equal(t, int32(1), f.expired.Load())
}

func TestStartInsideWarningWindow(t *testing.T) {
	f := newFixture(t, scenarioConfig(), inactivity.WithLastActivity(epoch.Add(-1750*time.Second)))
	require.Equal(t, inactivity.Warning, f.timer.State())
	require.Equal(t, 50, f.timer.Prompt().RemainingSeconds)

	f.clk.Advance(50 * time.Second)
	require.Equal(t, int32(1), f.expired.Load())
}

func TestStopCancelsExpiry(t *testing.T) {
	f := newFixture(t, scenarioConfig())
	f.timer.Stop()
	f.clk.Advance(time.Hour)
	require.Equal(t, int32(0), f.expired.Load())
	require.False(t, f.timer.Reset(f.clk.Now()))
}

func TestInvalidConfig(t *testing.T) {
	clk := clock.Fake(epoch)
	_, err := inactivity.New(clk, inactivity.Config{}, nil)
	require.ErrorIs(t, err, inactivity.ErrInvalidConfig)

	_, err = inactivity.New(clk, inactivity.Config{Timeout: time.Second, WarningDuration: time.Minute}, nil)
	require.ErrorIs(t, err, inactivity.ErrInvalidConfig)
}

func TestDefaultConfig(t *testing.T) {
	cfg := inactivity.DefaultConfig()
	require.Equal(t, 30*time.Minute, cfg.Timeout)
	require.Equal(t, 100*time.Second, cfg.WarningDuration)
}

func TestConcurrentResetsExpireOnce(t *testing.T) {
	var expired atomic.Int32
	timer, err := inactivity.New(clock.Real(), inactivity.Config{
		Timeout:         40 * time.Millisecond,
		WarningDuration: 20 * time.Millisecond,
		TickInterval:    5 * time.Millisecond,
	}, func() { expired.Add(1) })
	require.NoError(t, err)
	defer timer.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				timer.StaySignedIn()
				_ = timer.Prompt()
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), expired.Load())
}
