// Package bus is a small typed publish/subscribe bus used between modules
// instead of ad hoc global events.
package bus

import "sync"

// Bus fans values of type T out to every subscriber in subscription order
type Bus[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// New creates an empty bus
func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to a snapshot of the current subscribers. Subscribers
// may subscribe or unsubscribe from inside their callback.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of active subscribers
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
