package pool

import (
	"github.com/c360/controlbus/metric"
)

// DefaultChunkSize is the number of slots allocated together when a slab grows.
const DefaultChunkSize = 64

// Option configures slab behavior using the functional options pattern.
type Option[T any] func(*slabOptions[T])

type slabOptions[T any] struct {
	chunkSize int
	limit     int
	prealloc  int
	reset     func(*T)

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithChunkSize sets how many slots are allocated per chunk.
func WithChunkSize[T any](size int) Option[T] {
	return func(opts *slabOptions[T]) {
		if size > 0 {
			opts.chunkSize = size
		}
	}
}

// WithLimit caps the number of slots. Zero means unbounded.
func WithLimit[T any](limit int) Option[T] {
	return func(opts *slabOptions[T]) {
		if limit >= 0 {
			opts.limit = limit
		}
	}
}

// WithPrealloc allocates n slots up front.
func WithPrealloc[T any](n int) Option[T] {
	return func(opts *slabOptions[T]) {
		if n > 0 {
			opts.prealloc = n
		}
	}
}

// WithReset sets the hook run on a slot when it is released.
func WithReset[T any](reset func(*T)) Option[T] {
	return func(opts *slabOptions[T]) {
		opts.reset = reset
	}
}

// WithMetrics exports slab usage as Prometheus metrics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *slabOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

func applyOptions[T any](options ...Option[T]) *slabOptions[T] {
	opts := &slabOptions[T]{
		chunkSize: DefaultChunkSize,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.limit > 0 && opts.prealloc > opts.limit {
		opts.prealloc = opts.limit
	}

	return opts
}
