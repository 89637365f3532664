// Package dispatch delivers notifications to subscribers asynchronously and
// in order, the way a host event loop delivers cross-context events.
package dispatch

import "sync"

// Queue is an unbounded FIFO with a single delivery goroutine. Enqueue never
// blocks; handlers run one at a time on the delivery goroutine, so a slow
// handler delays later notifications but never drops them.
type Queue[T any] struct {
	mu       sync.Mutex
	pending  []T
	handlers map[uint64]func(T)
	nextID   uint64
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewQueue starts the delivery goroutine. Call Close to stop it.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		handlers: make(map[uint64]func(T)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Subscribe registers h and returns a function that removes it.
func (q *Queue[T]) Subscribe(h func(T)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++
	q.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.handlers, id)
			q.mu.Unlock()
		})
	}
}

// Enqueue schedules v for delivery. Values enqueued after Close are dropped.
func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery and waits for the goroutine to exit. Pending values
// are discarded. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue[T]) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.closed || len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			v := q.pending[0]
			q.pending = q.pending[1:]
			handlers := make([]func(T), 0, len(q.handlers))
			for _, h := range q.handlers {
				handlers = append(handlers, h)
			}
			q.mu.Unlock()

			for _, h := range handlers {
				h(v)
			}
		}
	}
}
