package memstore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/jrsteele09/go-session-guard/storage/memstore"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []storage.Change
}

func (r *recorder) record(c storage.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []storage.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Change(nil), r.changes...)
}

func TestViewsShareValues(t *testing.T) {
	scope := memstore.NewScope()
	a, b := scope.Open(), scope.Open()
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Set("session-id", "s1"))

	value, ok, err := b.Get("session-id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", value)

	require.NoError(t, b.Remove("session-id"))
	_, ok, err = a.Get("session-id")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangesAreDeliveredToOtherViewsOnly(t *testing.T) {
	scope := memstore.NewScope()
	a, b := scope.Open(), scope.Open()
	defer a.Close()
	defer b.Close()

	var seenByA, seenByB recorder
	a.Subscribe(seenByA.record)
	b.Subscribe(seenByB.record)

	require.NoError(t, a.Set("auth-token", "t1"))
	require.NoError(t, a.Set("auth-token", "t1")) // unchanged, no event
	require.NoError(t, a.Remove("auth-token"))
	require.NoError(t, a.Remove("auth-token")) // absent, no event

	require.Eventually(t, func() bool { return len(seenByB.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []storage.Change{
		{Key: "auth-token", Value: "t1"},
		{Key: "auth-token", Removed: true},
	}, seenByB.snapshot())

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, seenByA.snapshot())
}

func TestClosedViewRejectsAccess(t *testing.T) {
	scope := memstore.NewScope()
	v := scope.Open()
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, _, err := v.Get("k")
	require.Error(t, err)
	require.Error(t, v.Set("k", "v"))
}
