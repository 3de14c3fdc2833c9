// Package bus carries domain events from product services to the notifier.
// It is a wake-up channel, not the record of outcome: delivery is at least
// once and handlers must tolerate duplicates.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Message is one event on the bus.
type Message struct {
	Topic string
	Body  []byte
}

// Handler processes a message. Returning an error redelivers the message
// unless it is wrapped with Drop.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// Consumer delivers messages to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// DropError marks a message that can never succeed and must not be
// redelivered.
type DropError struct {
	Err error
}

func (e *DropError) Error() string { return "bus: drop message: " + e.Err.Error() }

func (e *DropError) Unwrap() error { return e.Err }

// Drop wraps err so the consumer acknowledges the message instead of
// redelivering it.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return &DropError{Err: err}
}

// IsDrop reports whether err was wrapped with Drop.
func IsDrop(err error) bool {
	var d *DropError
	return errors.As(err, &d)
}

// Memory is an in-process bus for tests and single-binary deployments.
// Messages whose handler fails are requeued at the back of the buffer.
type Memory struct {
	ch     chan Message
	once   sync.Once
	closed chan struct{}
}

// NewMemory creates an in-process bus holding up to size messages.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{ch: make(chan Message, size), closed: make(chan struct{})}
}

func (m *Memory) Publish(ctx context.Context, topic string, body []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- Message{Topic: topic, Body: append([]byte(nil), body...)}:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrClosed
		case msg := <-m.ch:
			if err := h(ctx, msg); err != nil && !IsDrop(err) {
				select {
				case m.ch <- msg:
				default:
				}
			}
		}
	}
}

// Len returns the number of buffered messages.
func (m *Memory) Len() int { return len(m.ch) }

// Close stops consumers and rejects further publishes.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
