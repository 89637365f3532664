// Package broadcast propagates session lifecycle notifications to every
// open tab of the origin. Delivery is best-effort and asynchronous, and
// handlers must tolerate duplicates.
package broadcast

import (
	"sync"
	"time"
)

// Topic names a lifecycle notification.
type Topic string

const (
	TopicSessionInvalidated Topic = "session-invalidated"
	TopicSessionExpired     Topic = "session-expired"
	TopicAuthTokenCleared   Topic = "auth-token-cleared"
)

// Payload is the application data of a notification.
type Payload struct {
	UserID    string
	SessionID string
	Reason    string
}

// Message is a delivered notification.
type Message struct {
	ID     string
	Topic  Topic
	Origin string
	SentAt time.Time
	Payload
}

// Handler receives messages for one topic.
type Handler func(Message)

// Broadcaster publishes to and observes the other tabs of the origin.
// A publisher never receives its own messages.
type Broadcaster interface {
	Publish(topic Topic, payload Payload) error
	Subscribe(topic Topic, h Handler) func()
	Close() error
}

// router fans messages out to per-topic handlers.
type router struct {
	mu       sync.RWMutex
	handlers map[Topic]map[uint64]Handler
	nextID   uint64
}

func newRouter() *router {
	return &router{handlers: make(map[Topic]map[uint64]Handler)}
}

func (r *router) subscribe(topic Topic, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers[topic] == nil {
		r.handlers[topic] = make(map[uint64]Handler)
	}
	id := r.nextID
	r.nextID++
	r.handlers[topic][id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[topic], id)
	}
}

func (r *router) deliver(msg Message) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.handlers[msg.Topic]))
	for _, h := range r.handlers[msg.Topic] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}
