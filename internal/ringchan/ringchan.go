package ringchan

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel-like buffer that never blocks its producer:
// when full, the oldest queued value is dropped to make room.
//
//	r := ringchan.New[snapshot.Update](16)
//	go func() {
//	    for u := range r.C() {
//	        render(u)
//	    }
//	}()
//	r.Send(update) // never blocks
//
// Send after Close is a no-op, so producers need no coordination with the
// consumer shutting the ring down.
type Ring[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send enqueues v, discarding the oldest value if the buffer is full.
// It reports whether a value was dropped.
func (r *Ring[T]) Send(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	dropped := false
	for {
		select {
		case r.ch <- v:
			r.sent.Add(1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			r.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Close closes the receive side. Safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Len returns the number of buffered values.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Sent returns how many values were accepted.
func (r *Ring[T]) Sent() int64 { return r.sent.Load() }

// Dropped returns how many values were discarded to make room.
func (r *Ring[T]) Dropped() int64 { return r.dropped.Load() }
