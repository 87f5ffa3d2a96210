package message

import (
	"github.com/c360/controlbus/errors"
)

// BufferStats counts what a Buffer has absorbed since it was created.
type BufferStats struct {
	Enqueued  uint64 // envelopes accepted
	Coalesced uint64 // envelopes merged into an already pending one
	Cancelled uint64 // pending envelopes dropped by a later create or destroy
	Drained   uint64 // envelopes handed out by Drain
}

// Buffer coalesces envelopes between two drain points.
//
// Within one buffering window a Buffer holds at most one envelope per
// (key, kind):
//
//   - Create cancels any pending Destroy and Control for its key, then
//     merges into a pending Create or becomes it.
//   - Control merges into a pending Control or becomes it. It cancels
//     nothing.
//   - Destroy cancels any pending Create and Control for its key, then
//     merges into a pending Destroy or becomes it.
//   - Event envelopes are queued in arrival order and never merged.
//
// Cancelled and merged envelopes are returned to the pool immediately.
// Drained envelopes are not: whoever consumes the batch releases them.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	pool *Pool

	creates  map[ChannelInstanceKey]*Envelope
	controls map[ChannelInstanceKey]*Envelope
	destroys map[ChannelInstanceKey]*Envelope
	events   []*Envelope

	stats BufferStats
}

// NewBuffer creates a buffer that releases cancelled envelopes to pool.
func NewBuffer(pool *Pool) *Buffer {
	return &Buffer{
		pool:     pool,
		creates:  make(map[ChannelInstanceKey]*Envelope),
		controls: make(map[ChannelInstanceKey]*Envelope),
		destroys: make(map[ChannelInstanceKey]*Envelope),
	}
}

// Enqueue absorbs env into the buffer, which takes ownership of it.
// Component envelopes are rejected with ErrNotBufferable and remain owned by
// the caller.
func (b *Buffer) Enqueue(env *Envelope) error {
	if env == nil {
		return nil
	}

	switch env.Kind {
	case KindCreate:
		b.cancel(b.destroys, env.Key)
		b.cancel(b.controls, env.Key)
		b.upsert(b.creates, env)
	case KindControl:
		b.upsert(b.controls, env)
	case KindDestroy:
		b.cancel(b.creates, env.Key)
		b.cancel(b.controls, env.Key)
		b.upsert(b.destroys, env)
	case KindEvent:
		b.events = append(b.events, env)
		b.stats.Enqueued++
	case KindComponent, KindUnknown:
		return errors.WrapInvalid(errors.ErrNotBufferable, "Buffer", "Enqueue",
			"enqueue "+env.Kind.String())
	default:
		return errors.WrapInvalid(errors.ErrUnknownKind, "Buffer", "Enqueue",
			"enqueue "+env.Kind.String())
	}
	return nil
}

func (b *Buffer) upsert(pending map[ChannelInstanceKey]*Envelope, env *Envelope) {
	b.stats.Enqueued++

	existing, ok := pending[env.Key]
	if !ok {
		pending[env.Key] = env
		return
	}

	// Same key and kind by construction, so Push cannot fail.
	_ = existing.Push(env)
	b.release(env)
	b.stats.Coalesced++
}

func (b *Buffer) cancel(pending map[ChannelInstanceKey]*Envelope, key ChannelInstanceKey) {
	env, ok := pending[key]
	if !ok {
		return
	}
	delete(pending, key)
	b.release(env)
	b.stats.Cancelled++
}

func (b *Buffer) release(env *Envelope) {
	if b.pool != nil {
		_ = b.pool.Put(env)
	}
}

// Drain appends every pending envelope to dst and empties the buffer.
// Creates come first, then controls, destroys and events; order between keys
// is unspecified.
func (b *Buffer) Drain(dst []*Envelope) []*Envelope {
	start := len(dst)
	for _, env := range b.creates {
		dst = append(dst, env)
	}
	for _, env := range b.controls {
		dst = append(dst, env)
	}
	for _, env := range b.destroys {
		dst = append(dst, env)
	}
	dst = append(dst, b.events...)

	clear(b.creates)
	clear(b.controls)
	clear(b.destroys)
	clear(b.events)
	b.events = b.events[:0]

	b.stats.Drained += uint64(len(dst) - start)
	return dst
}

// Len returns the number of pending envelopes.
func (b *Buffer) Len() int {
	return len(b.creates) + len(b.controls) + len(b.destroys) + len(b.events)
}

// Pending returns the pending envelope for key and kind, if any.
func (b *Buffer) Pending(kind Kind, key ChannelInstanceKey) (*Envelope, bool) {
	var env *Envelope
	switch kind {
	case KindCreate:
		env = b.creates[key]
	case KindControl:
		env = b.controls[key]
	case KindDestroy:
		env = b.destroys[key]
	case KindEvent, KindComponent, KindUnknown:
	}
	return env, env != nil
}

// Reset releases every pending envelope to the pool.
func (b *Buffer) Reset() {
	for _, pending := range []map[ChannelInstanceKey]*Envelope{b.creates, b.controls, b.destroys} {
		for key, env := range pending {
			b.release(env)
			delete(pending, key)
		}
	}
	for i, env := range b.events {
		b.release(env)
		b.events[i] = nil
	}
	b.events = b.events[:0]
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() BufferStats {
	return b.stats
}
