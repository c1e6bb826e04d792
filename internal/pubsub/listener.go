package pubsub

import "context"

// Listener wraps a broker subscription for select loops.
type Listener[T any] struct {
	ch <-chan Event[T]
}

// NewListener creates a new listener that subscribes to the broker.
// The subscription is automatically cleaned up when the context is cancelled.
func NewListener[T any](ctx context.Context, broker Subscriber[T]) *Listener[T] {
	return &Listener[T]{ch: broker.Subscribe(ctx)}
}

// C exposes the subscription channel. It is closed when the context is
// cancelled or the broker shuts down.
func (l *Listener[T]) C() <-chan Event[T] {
	return l.ch
}
