package broadcast

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/rs/zerolog/log"
)

// StorageBroadcaster carries messages over the shared store's change
// notifications. Each publish writes a fresh envelope under
// "broadcast:<topic>", so every publish is a change even when the payload
// repeats. The removal of the auth token by another tab is surfaced as
// TopicAuthTokenCleared.
type StorageBroadcaster struct {
	store       storage.Store
	origin      string
	clock       clock.Clock
	router      *router
	unsubscribe func()

	mu     sync.Mutex
	closed bool
}

var _ Broadcaster = (*StorageBroadcaster)(nil)

// NewStorageBroadcaster starts observing store. origin identifies the tab.
func NewStorageBroadcaster(store storage.Store, origin string, clk clock.Clock) *StorageBroadcaster {
	b := &StorageBroadcaster{
		store:  store,
		origin: origin,
		clock:  clk,
		router: newRouter(),
	}
	b.unsubscribe = store.Subscribe(b.onChange)
	return b
}

func (b *StorageBroadcaster) Publish(topic Topic, payload Payload) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return interr.ErrClosed
	}

	value, err := Encode(Message{
		ID:      uuid.NewString(),
		Topic:   topic,
		Origin:  b.origin,
		SentAt:  b.clock.Now(),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return interr.Wrapf(b.store.Set(storage.BroadcastKeyPrefix+string(topic), value), "[StorageBroadcaster Publish] %s", topic)
}

func (b *StorageBroadcaster) Subscribe(topic Topic, h Handler) func() {
	return b.router.subscribe(topic, h)
}

func (b *StorageBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.unsubscribe()
	return nil
}

func (b *StorageBroadcaster) onChange(change storage.Change) {
	switch {
	case change.Key == storage.KeyAuthToken && change.Removed:
		b.router.deliver(Message{
			ID:      uuid.NewString(),
			Topic:   TopicAuthTokenCleared,
			Origin:  "storage",
			SentAt:  b.clock.Now(),
			Payload: Payload{Reason: "auth token removed"},
		})

	case strings.HasPrefix(change.Key, storage.BroadcastKeyPrefix) && !change.Removed:
		msg, err := Decode(change.Value)
		if err != nil {
			log.Warn().Err(err).Str("key", change.Key).Msg("Dropping undecodable broadcast")
			return
		}
		if msg.Origin == b.origin {
			return
		}
		b.router.deliver(msg)
	}
}
