package buffer

import (
	"sync"

	"github.com/c360/controlbus/errors"
)

// Mode selects how a Handoff is consumed.
type Mode int

const (
	// ModePush: producers push continuously and the consumer takes the whole
	// list once per tick with Swap.
	ModePush Mode = iota

	// ModePull: the consumer takes items one at a time with Dequeue, usually
	// after waiting on Ready.
	ModePull
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	default:
		return "unknown"
	}
}

// OverflowPolicy defines what Push does when a bounded Handoff is full.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being pushed.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the lock, with every item dropped on overflow.
type DropCallback[T any] func(item T)

// Handoff is a FIFO list shared between producer goroutines and one consumer.
//
// The lock is held only to append or to copy the list out. The consumer
// decodes and dispatches after the lock is released, so a slow consumer never
// stalls a producer for longer than one copy.
type Handoff[T any] struct {
	mu     sync.Mutex
	mode   Mode
	items  []T
	head   int // pull mode read position
	closed bool
	ready  chan struct{}

	capacity     int
	policy       OverflowPolicy
	dropCallback DropCallback[T]

	stats   *Statistics
	metrics *handoffMetrics
}

// NewHandoff creates a hand-off queue for the given delivery mode.
// A capacity of zero (the default) means unbounded.
func NewHandoff[T any](mode Mode, options ...Option[T]) (*Handoff[T], error) {
	opts := applyOptions(options...)

	h := &Handoff[T]{
		mode:         mode,
		ready:        make(chan struct{}, 1),
		capacity:     opts.capacity,
		policy:       opts.overflowPolicy,
		dropCallback: opts.dropCallback,
		stats:        NewStatistics(),
	}

	if opts.metricsReg != nil {
		m, err := newHandoffMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Handoff", "NewHandoff", "metrics registration")
		}
		h.metrics = m
	}

	return h, nil
}

// Mode returns the delivery mode the queue was created with.
func (h *Handoff[T]) Mode() Mode {
	return h.mode
}

// Push appends item. It is safe to call from any goroutine.
func (h *Handoff[T]) Push(item T) error {
	var (
		dropped    T
		hasDropped bool
	)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Handoff", "Push", "hand-off closed")
	}

	if h.capacity > 0 && h.len() >= h.capacity {
		h.stats.Drop()
		if h.metrics != nil {
			h.metrics.drops.Inc()
		}

		switch h.policy {
		case DropNewest:
			h.mu.Unlock()
			if h.dropCallback != nil {
				h.dropCallback(item)
			}
			return nil
		case DropOldest:
			dropped, hasDropped = h.items[h.head], true
			var zero T
			h.items[h.head] = zero
			h.head++
		}
	}

	h.compact()
	h.items = append(h.items, item)
	size := h.len()
	h.stats.Push(size)
	if h.metrics != nil {
		h.metrics.recordPush(size)
	}
	h.mu.Unlock()

	select {
	case h.ready <- struct{}{}:
	default:
	}

	if hasDropped && h.dropCallback != nil {
		h.dropCallback(dropped)
	}
	return nil
}

// Swap appends every queued item to dst, empties the queue and returns the
// extended slice. Only valid in ModePush.
func (h *Handoff[T]) Swap(dst []T) ([]T, error) {
	if h.mode != ModePush {
		return dst, errors.WrapInvalid(errors.ErrModeMismatch, "Handoff", "Swap",
			"swap on "+h.mode.String()+" hand-off")
	}

	h.mu.Lock()
	n := h.len()
	dst = append(dst, h.items[h.head:]...)
	clear(h.items)
	h.items = h.items[:0]
	h.head = 0
	h.mu.Unlock()

	h.stats.Take(n)
	if h.metrics != nil {
		h.metrics.recordTake(n)
	}
	return dst, nil
}

// Dequeue removes the oldest item. Only valid in ModePull.
func (h *Handoff[T]) Dequeue() (T, bool, error) {
	var zero T
	if h.mode != ModePull {
		return zero, false, errors.WrapInvalid(errors.ErrModeMismatch, "Handoff", "Dequeue",
			"dequeue on "+h.mode.String()+" hand-off")
	}

	h.mu.Lock()
	if h.len() == 0 {
		h.mu.Unlock()
		return zero, false, nil
	}

	item := h.items[h.head]
	h.items[h.head] = zero
	h.head++
	if h.head == len(h.items) {
		h.items = h.items[:0]
		h.head = 0
	} else {
		// Signal again so a waiter knows more is queued.
		select {
		case h.ready <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()

	h.stats.Take(1)
	if h.metrics != nil {
		h.metrics.recordTake(1)
	}
	return item, true, nil
}

// Ready is signalled after a Push. In ModePull a consumer waits on it before
// calling Dequeue. The signal is level-triggered at most once per push, so
// always drain with Dequeue until it reports empty.
func (h *Handoff[T]) Ready() <-chan struct{} {
	return h.ready
}

// Len returns the number of queued items.
func (h *Handoff[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.len()
}

// compact slides the live items to the front once the consumed prefix is
// at least as large as what remains.
func (h *Handoff[T]) compact() {
	if h.head == 0 || h.head < len(h.items)-h.head {
		return
	}
	n := copy(h.items, h.items[h.head:])
	clear(h.items[n:])
	h.items = h.items[:n]
	h.head = 0
}

func (h *Handoff[T]) len() int {
	return len(h.items) - h.head
}

// Close stops accepting pushes. Queued items can still be taken.
func (h *Handoff[T]) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// Stats returns the always-on statistics.
func (h *Handoff[T]) Stats() *Statistics {
	return h.stats
}
