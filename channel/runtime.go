package channel

import (
	"log/slog"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/pool"
)

// RuntimeConfig sizes the pools a Runtime owns. Zero limits mean unbounded.
type RuntimeConfig struct {
	EnvelopeLimit int
	InstanceLimit int
	Prealloc      int

	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// Runtime is the context shared by every controller attached to one hub: the
// envelope pool, the instance pool and the logger. It replaces process-wide
// singletons; construct one per hub and pass it down.
//
// Everything reachable from a Runtime belongs to the tick goroutine.
type Runtime struct {
	Envelopes *message.Pool
	Instances *InstancePool
	Logger    *slog.Logger

	// Metrics is nil when no registry was configured.
	Metrics *metric.Metrics
}

// NewRuntime builds the pools described by cfg.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	envOpts := []pool.Option[message.Envelope]{
		pool.WithLimit[message.Envelope](cfg.EnvelopeLimit),
		pool.WithPrealloc[message.Envelope](cfg.Prealloc),
		pool.WithMetrics[message.Envelope](cfg.Registry, "envelopes"),
	}
	envelopes, err := message.NewPool(envOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "NewRuntime", "create envelope pool")
	}

	instOpts := []pool.Option[Instance]{
		pool.WithLimit[Instance](cfg.InstanceLimit),
		pool.WithPrealloc[Instance](cfg.Prealloc),
		pool.WithMetrics[Instance](cfg.Registry, "instances"),
	}
	instances, err := NewInstancePool(instOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "NewRuntime", "create instance pool")
	}

	rt := &Runtime{
		Envelopes: envelopes,
		Instances: instances,
		Logger:    logger,
	}
	if cfg.Registry != nil {
		rt.Metrics = cfg.Registry.CoreMetrics()
	}
	return rt, nil
}

// MustRuntime is NewRuntime with unbounded pools and no metrics, for tests and
// examples. It panics only if pool construction fails, which it cannot
// without a registry.
func MustRuntime(logger *slog.Logger) *Runtime {
	rt, err := NewRuntime(RuntimeConfig{Logger: logger})
	if err != nil {
		panic(err)
	}
	return rt
}

func (rt *Runtime) recordDrop(reason string) {
	if rt.Metrics != nil {
		rt.Metrics.RecordMessageDropped(reason)
	}
}
