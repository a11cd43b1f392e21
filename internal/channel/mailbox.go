// Package channel provides the bounded typed mailbox used to hand messages
// between execution contexts.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when sending to a closed mailbox.
var ErrClosed = errors.New("mailbox is closed")

// Mailbox is a bounded FIFO of typed messages with one logical consumer.
// Producers may block (Send) or fail fast (TrySend); the consumer drains
// whatever is queued on each tick of its loop.
type Mailbox[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool

	sends    atomic.Int64
	receives atomic.Int64
	blocks   atomic.Int64
}

// NewMailbox creates a mailbox holding at most size pending messages.
func NewMailbox[T any](size int) *Mailbox[T] {
	if size <= 0 {
		size = 1
	}
	return &Mailbox[T]{ch: make(chan T, size)}
}

// Send enqueues v, blocking while the mailbox is full.
func (m *Mailbox[T]) Send(ctx context.Context, v T) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	select {
	case m.ch <- v:
		m.sends.Add(1)
		return nil
	default:
	}

	m.blocks.Add(1)
	select {
	case m.ch <- v:
		m.sends.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues v without blocking. It reports false when full or closed.
func (m *Mailbox[T]) TrySend(v T) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- v:
		m.sends.Add(1)
		return true
	default:
		m.blocks.Add(1)
		return false
	}
}

// Receive blocks until a message is available or ctx is done.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v, ok := <-m.ch:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		m.receives.Add(1)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain returns every message queued at the time of the call, in order.
func (m *Mailbox[T]) Drain() []T {
	var out []T
	for {
		select {
		case v, ok := <-m.ch:
			if !ok {
				return out
			}
			m.receives.Add(1)
			out = append(out, v)
		default:
			return out
		}
	}
}

// Chan exposes the receive side for select statements.
func (m *Mailbox[T]) Chan() <-chan T {
	return m.ch
}

// Len returns the number of queued messages.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

// Cap returns the mailbox capacity.
func (m *Mailbox[T]) Cap() int {
	return cap(m.ch)
}

// Close stops accepting messages. Queued messages can still be drained.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Stats returns mailbox counters.
func (m *Mailbox[T]) Stats() MailboxStats {
	return MailboxStats{
		Capacity: cap(m.ch),
		Length:   len(m.ch),
		Sends:    m.sends.Load(),
		Receives: m.receives.Load(),
		Blocks:   m.blocks.Load(),
	}
}

// MailboxStats contains mailbox statistics.
type MailboxStats struct {
	Capacity int   `json:"capacity"`
	Length   int   `json:"length"`
	Sends    int64 `json:"sends"`
	Receives int64 `json:"receives"`
	Blocks   int64 `json:"blocks"`
}
