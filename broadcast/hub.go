package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/internal/dispatch"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
)

// Hub is an in-process publish/subscribe channel shared by the tabs of one
// process, the analogue of a named BroadcastChannel.
type Hub struct {
	mu        sync.RWMutex
	clock     clock.Clock
	endpoints map[string]*Endpoint
}

// NewHub creates an empty hub.
func NewHub(clk clock.Clock) *Hub {
	return &Hub{clock: clk, endpoints: make(map[string]*Endpoint)}
}

// Join connects a tab to the hub.
func (h *Hub) Join(origin string) *Endpoint {
	e := &Endpoint{
		id:     uuid.NewString(),
		origin: origin,
		hub:    h,
		router: newRouter(),
		queue:  dispatch.NewQueue[Message](),
	}
	e.queue.Subscribe(e.router.deliver)

	h.mu.Lock()
	h.endpoints[e.id] = e
	h.mu.Unlock()
	return e
}

// Endpoint is one tab's connection to a Hub.
type Endpoint struct {
	id     string
	origin string
	hub    *Hub
	router *router
	queue  *dispatch.Queue[Message]

	mu     sync.Mutex
	closed bool
}

var _ Broadcaster = (*Endpoint)(nil)

// Publish delivers to every other endpoint. Each receiver gets its own
// decoded copy, as with structured cloning.
func (e *Endpoint) Publish(topic Topic, payload Payload) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return interr.ErrClosed
	}

	wire, err := Encode(Message{
		ID:      uuid.NewString(),
		Topic:   topic,
		Origin:  e.origin,
		SentAt:  e.hub.clock.Now(),
		Payload: payload,
	})
	if err != nil {
		return err
	}

	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	for id, peer := range e.hub.endpoints {
		if id == e.id {
			continue
		}
		msg, err := Decode(wire)
		if err != nil {
			return err
		}
		peer.queue.Enqueue(msg)
	}
	return nil
}

func (e *Endpoint) Subscribe(topic Topic, h Handler) func() {
	return e.router.subscribe(topic, h)
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.mu.Lock()
	delete(e.hub.endpoints, e.id)
	e.hub.mu.Unlock()

	e.queue.Close()
	return nil
}
