// Package notification provides a typed publish/subscribe bus.
package notification

import (
	"sync"

	"github.com/google/uuid"
)

// subscription represents a subscriber's registration.
type subscription[T any] struct {
	id string
	fn func(T)
}

// Bus delivers published values to every subscriber in subscription order.
// Handlers run on the publishing goroutine and must not block.
type Bus[T any] struct {
	mu            sync.RWMutex
	subscriptions []*subscription[T]
	sequenceNo    uint64
	closed        bool
}

// NewBus creates a new bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a disposer that removes it.
// The disposer is idempotent and safe to defer on every exit path.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &subscription[T]{id: uuid.New().String(), fn: fn}
	b.subscriptions = append(b.subscriptions, sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus[T]) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscriptions {
		if sub.id == id {
			b.subscriptions = append(b.subscriptions[:i:i], b.subscriptions[i+1:]...)
			return
		}
	}
}

// Publish delivers v to all current subscribers and returns its sequence number.
func (b *Bus[T]) Publish(v T) uint64 {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.sequenceNo++
	seq := b.sequenceNo
	// Copy subscriptions to avoid holding lock during delivery
	subs := make([]*subscription[T], len(b.subscriptions))
	copy(subs, b.subscriptions)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}
	return seq
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions. Later publishes are dropped.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = nil
}
