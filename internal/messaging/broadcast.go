package messaging

import (
	"context"
	"sync"
)

// Broadcaster fans values out to subscribers. Each subscriber has one
// buffered slot: a slow subscriber sees the newest value, older unread ones
// are dropped. New subscribers first receive the last published value.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[chan T]struct{}
	last    T
	hasLast bool
	closed  bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[chan T]struct{})}
}

// Publish hands v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last, b.hasLast = v, true
	for ch := range b.subs {
		offer(ch, v)
	}
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	// Only publishers send, under the lock, so the slot is free now.
	ch <- v
}

// Subscribe returns a channel receiving published values until ctx is done
// or the broadcaster is closed, at which point the channel is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	if b.hasLast {
		ch <- b.last
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { b.unsubscribe(ch) })
	return ch
}

func (b *Broadcaster[T]) unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes are dropped.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
