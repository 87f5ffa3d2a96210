package buffer

import (
	"github.com/c360/controlbus/metric"
)

// Option configures hand-off behavior using the functional options pattern.
type Option[T any] func(*handoffOptions[T])

// handoffOptions holds internal configuration.
// Stats are ALWAYS collected; metrics are optional via WithMetrics().
type handoffOptions[T any] struct {
	capacity       int
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// metricsReg is optional - if provided, stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string
}

// WithCapacity bounds the queue. Zero means unbounded.
func WithCapacity[T any](capacity int) Option[T] {
	return func(opts *handoffOptions[T]) {
		if capacity >= 0 {
			opts.capacity = capacity
		}
	}
}

// WithOverflowPolicy sets the overflow behavior for a bounded queue.
// Defaults to DropOldest if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *handoffOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics enables Prometheus metrics export for hand-off statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *handoffOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback function that is called when items are dropped.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *handoffOptions[T]) {
		opts.dropCallback = callback
	}
}

// applyOptions applies functional options to create final configuration.
func applyOptions[T any](options ...Option[T]) *handoffOptions[T] {
	opts := &handoffOptions[T]{
		overflowPolicy: DropOldest,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
