// Package mailbox implements the broker's inbound queue: an unbounded,
// first-in first-out, multi-producer single-consumer queue.
//
// Push never blocks, so a caller can always enqueue a request even while the
// consumer is busy inside a long backend call. Ordering is strict FIFO across
// all producers: if one Push returns before another starts, the first item is
// received first.
package mailbox

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox is an unbounded MPSC FIFO queue. The zero value is not usable;
// create one with New.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// notify has capacity 1 and is signaled after every Push and on Close.
	// The single consumer re-checks the queue after each wakeup, so a
	// coalesced signal never loses an item.
	notify chan struct{}
}

// New returns an empty, open mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Push appends v to the queue. It returns ErrClosed once the mailbox has
// been closed. Safe for concurrent use.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.signal()
	return nil
}

// Receive blocks until an item is available and returns it. It returns
// false when the mailbox is closed and drained. Only one goroutine may call
// Receive.
func (m *Mailbox[T]) Receive() (T, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			if len(m.items) == 0 {
				m.items = nil
			}
			m.mu.Unlock()
			return v, true
		}
		if m.closed {
			m.mu.Unlock()
			var zero T
			return zero, false
		}
		m.mu.Unlock()
		<-m.notify
	}
}

// Close stops accepting new items and returns everything still queued, in
// FIFO order, leaving the mailbox empty. Closing twice returns nil.
func (m *Mailbox[T]) Close() []T {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	rest := m.items
	m.items = nil
	m.mu.Unlock()

	m.signal()
	return rest
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns a snapshot of the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
