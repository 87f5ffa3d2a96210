package message

import (
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/pkg/pool"
)

// PoolStats is a snapshot of envelope pool usage.
type PoolStats struct {
	pool.Stats
	Detached uint64 // envelopes handed out unpooled because the slab was full
}

// Pool recycles envelopes through an index-addressed slab.
//
// A Pool is not safe for concurrent use; it belongs to the tick goroutine.
// When a limit is configured and reached, Get still succeeds and returns a
// detached envelope that Put silently ignores, so a burst degrades to
// garbage-collected allocation instead of dropping traffic.
type Pool struct {
	slab     *pool.Slab[Envelope]
	detached uint64
}

// NewPool creates an envelope pool. Options are passed through to the slab;
// the reset hook is always installed.
func NewPool(options ...pool.Option[Envelope]) (*Pool, error) {
	options = append(options, pool.WithReset(func(e *Envelope) { e.Reset() }))
	slab, err := pool.New(options...)
	if err != nil {
		return nil, errors.Wrap(err, "Pool", "NewPool", "create envelope slab")
	}
	return &Pool{slab: slab}, nil
}

// Get returns a cleared envelope with kind and key set.
func (p *Pool) Get(kind Kind, key ChannelInstanceKey) *Envelope {
	e, h, err := p.slab.Acquire()
	if err != nil {
		p.detached++
		return NewEnvelope(kind, key)
	}
	e.handle = h
	e.Kind = kind
	e.Key = key
	return e
}

// Put returns e to the pool. Unpooled envelopes are ignored. Releasing the
// same envelope twice returns ErrDoubleRelease.
func (p *Pool) Put(e *Envelope) error {
	if e == nil || !e.handle.Valid() {
		return nil
	}
	switch cur := p.slab.At(e.handle); {
	case cur == e:
		return p.slab.Release(e.handle)
	case cur == nil:
		// Not acquired: the slab reports double release or a bad handle.
		return p.slab.Release(e.handle)
	default:
		return errors.WrapInvalid(errors.ErrInvalidHandle, "Pool", "Put",
			"release envelope owned by another pool")
	}
}

// PutAll returns every envelope in batch to the pool and clears the slice
// entries. Errors from individual releases are joined.
func (p *Pool) PutAll(batch []*Envelope) error {
	var errs []error
	for i, e := range batch {
		if err := p.Put(e); err != nil {
			errs = append(errs, err)
		}
		batch[i] = nil
	}
	return errors.Join(errs...)
}

// InUse returns the number of pooled envelopes currently handed out.
func (p *Pool) InUse() int {
	return p.slab.InUse()
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Stats: p.slab.Stats(), Detached: p.detached}
}
