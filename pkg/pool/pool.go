// Package pool provides a fixed-chunk slab allocator whose slots are addressed
// by index handles.
//
// A Slab hands out pointers into chunks that are never moved, so a pointer
// stays valid for as long as its slot is acquired. Released slots are reset
// immediately and pushed onto a LIFO free list, which keeps recently used
// memory warm for the next Acquire.
//
// Slabs are not safe for concurrent use. In controlbus every slab is owned by
// the goroutine that drives the tick.
package pool

import (
	"fmt"

	"github.com/c360/controlbus/errors"
)

// Handle addresses one slot of a Slab. The zero Handle is never issued.
type Handle int32

// Valid reports whether h could have been issued by a Slab.
func (h Handle) Valid() bool {
	return h > 0
}

func (h Handle) index() int {
	return int(h) - 1
}

// Stats is a snapshot of slab usage.
type Stats struct {
	Slots     int    // slots allocated so far
	InUse     int    // slots currently acquired
	Acquires  uint64 // total successful acquires
	Releases  uint64 // total successful releases
	Exhausted uint64 // acquires refused because the limit was reached
}

// Slab is a generic slab of T values.
type Slab[T any] struct {
	chunkSize int
	limit     int
	reset     func(*T)

	chunks [][]T
	inUse  []bool
	free   []int32

	stats   Stats
	metrics *slabMetrics
}

// New creates a slab. Options configure chunk size, an upper slot limit, the
// reset hook and Prometheus metrics.
func New[T any](options ...Option[T]) (*Slab[T], error) {
	opts := applyOptions(options...)

	s := &Slab[T]{
		chunkSize: opts.chunkSize,
		limit:     opts.limit,
		reset:     opts.reset,
	}

	if opts.metricsReg != nil {
		m, err := newSlabMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Slab", "New", "metrics registration")
		}
		s.metrics = m
	}

	for i := 0; i < opts.prealloc; i++ {
		if !s.grow() {
			break
		}
	}
	// Preallocated slots go straight onto the free list, lowest index on top.
	for i := len(s.inUse) - 1; i >= 0; i-- {
		s.free = append(s.free, int32(i))
	}

	return s, nil
}

// Acquire returns a free slot and its handle. It fails with ErrPoolExhausted
// only when a limit is configured and every slot is in use.
func (s *Slab[T]) Acquire() (*T, Handle, error) {
	var idx int
	if n := len(s.free); n > 0 {
		idx = int(s.free[n-1])
		s.free = s.free[:n-1]
	} else {
		if !s.grow() {
			s.stats.Exhausted++
			if s.metrics != nil {
				s.metrics.exhausted.Inc()
			}
			return nil, 0, errors.WrapTransient(errors.ErrPoolExhausted, "Slab", "Acquire",
				fmt.Sprintf("acquire slot (limit %d)", s.limit))
		}
		idx = len(s.inUse) - 1
	}

	s.inUse[idx] = true
	s.stats.InUse++
	s.stats.Acquires++
	if s.metrics != nil {
		s.metrics.inUse.Set(float64(s.stats.InUse))
	}

	return s.slot(idx), Handle(idx + 1), nil
}

// At returns the slot addressed by h, or nil if h is not currently acquired.
func (s *Slab[T]) At(h Handle) *T {
	if !s.acquired(h) {
		return nil
	}
	return s.slot(h.index())
}

// Release resets the slot addressed by h and returns it to the free list.
func (s *Slab[T]) Release(h Handle) error {
	if !h.Valid() || h.index() >= len(s.inUse) {
		return errors.WrapInvalid(errors.ErrInvalidHandle, "Slab", "Release",
			fmt.Sprintf("resolve handle %d", h))
	}

	idx := h.index()
	if !s.inUse[idx] {
		return errors.WrapInvalid(errors.ErrDoubleRelease, "Slab", "Release",
			fmt.Sprintf("release handle %d", h))
	}

	if s.reset != nil {
		s.reset(s.slot(idx))
	}

	s.inUse[idx] = false
	s.free = append(s.free, int32(idx))
	s.stats.InUse--
	s.stats.Releases++
	if s.metrics != nil {
		s.metrics.inUse.Set(float64(s.stats.InUse))
	}

	return nil
}

// InUse returns the number of acquired slots.
func (s *Slab[T]) InUse() int {
	return s.stats.InUse
}

// Stats returns a snapshot of slab usage.
func (s *Slab[T]) Stats() Stats {
	st := s.stats
	st.Slots = len(s.inUse)
	return st
}

func (s *Slab[T]) acquired(h Handle) bool {
	return h.Valid() && h.index() < len(s.inUse) && s.inUse[h.index()]
}

func (s *Slab[T]) slot(idx int) *T {
	return &s.chunks[idx/s.chunkSize][idx%s.chunkSize]
}

// grow adds one slot, allocating a new chunk when the current one is full.
func (s *Slab[T]) grow() bool {
	n := len(s.inUse)
	if s.limit > 0 && n >= s.limit {
		return false
	}
	if n%s.chunkSize == 0 {
		s.chunks = append(s.chunks, make([]T, s.chunkSize))
		if s.metrics != nil {
			s.metrics.chunks.Inc()
		}
	}
	s.inUse = append(s.inUse, false)
	if s.metrics != nil {
		s.metrics.slots.Set(float64(len(s.inUse)))
	}
	return true
}
