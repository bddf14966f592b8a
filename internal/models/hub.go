package models

import "sync"

// Hub is an ordered fan-out of values to subscribed handlers.
// The zero value is ready to use.
type Hub[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// NewHub creates an empty hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers fn and returns an idempotent unsubscribe function
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		panic("hub handler cannot be nil")
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every handler on the calling goroutine.
// Handlers run outside the lock so they may subscribe or unsubscribe.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	snapshot := make([]func(T), len(h.subs))
	for i, s := range h.subs {
		snapshot[i] = s.fn
	}
	h.mu.RUnlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

// Len returns the number of live subscriptions
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Feed is a stream of batches. A *Hub[[]T] satisfies Feed[T].
type Feed[T any] interface {
	Subscribe(fn func([]T)) func()
}
