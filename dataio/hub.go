package dataio

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/component"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/transport"
)

// DefaultStopTimeout bounds how long Stop waits for each transport.
const DefaultStopTimeout = 5 * time.Second

// StatusObserver is told about every status transition of an adapter.
type StatusObserver func(a *Adapter, status transport.Status)

// DeclarationObserver receives component declarations announced by a remote
// peer. The slice is only valid for the duration of the call.
type DeclarationObserver func(a *Adapter, decls []message.ComponentDeclaration)

// HubStats counts what a Hub has done since it was created.
type HubStats struct {
	Ticks            uint64
	Routed           uint64
	UnknownComponent uint64
	RoutingErrors    uint64
	Flushed          uint64
	EncodeErrors     uint64
	Handshakes       uint64
	Declarations     uint64
}

// Hub connects adapters to component controllers.
//
// Every Tick ingests each adapter, routes the decoded envelopes to the
// component they address, ends the tick on every component and finally
// flushes the outbound buffer to all adapters. The Hub owns the
// channel.Runtime every controller attached to it draws from.
//
// Apart from Start, Stop and Run, a Hub must only be used from the goroutine
// that calls Tick.
type Hub struct {
	rt       *channel.Runtime
	codec    *message.Codec
	outbound *message.Buffer
	logger   *slog.Logger
	monitor  *health.Monitor

	adapters   []*Adapter
	components map[string]*component.Controller
	order      []string

	statusObservers []statusEntry
	declObservers   []declEntry
	observerID      uint64

	strict         bool
	unknownLimiter *rate.Limiter
	sendLimiter    *rate.Limiter

	statuses []transport.Status
	flush    []*message.Envelope
	errs     []error
	stats    HubStats

	lifecycleMu sync.Mutex
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

type statusEntry struct {
	id uint64
	fn StatusObserver
}

type declEntry struct {
	id uint64
	fn DeclarationObserver
}

type hubOptions struct {
	runtime  channel.RuntimeConfig
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	strict   bool
}

// Option configures a Hub.
type Option func(*hubOptions)

// WithLogger sets the logger shared by the hub and its runtime.
func WithLogger(logger *slog.Logger) Option {
	return func(o *hubOptions) { o.logger = logger }
}

// WithMetrics records pool and traffic metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *hubOptions) { o.registry = registry }
}

// WithPoolLimits bounds the envelope and instance pools and preallocates
// prealloc entries in each. Zero limits mean unbounded.
func WithPoolLimits(envelopes, instances, prealloc int) Option {
	return func(o *hubOptions) {
		o.runtime.EnvelopeLimit = envelopes
		o.runtime.InstanceLimit = instances
		o.runtime.Prealloc = prealloc
	}
}

// WithHealthMonitor reports adapter status to monitor.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(o *hubOptions) { o.monitor = monitor }
}

// WithStrictRouting makes Run return on the first tick that reports a
// routing mismatch instead of logging it.
func WithStrictRouting(strict bool) Option {
	return func(o *hubOptions) { o.strict = strict }
}

// NewHub creates a hub with its own runtime.
func NewHub(opts ...Option) (*Hub, error) {
	var o hubOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.runtime.Logger = o.logger
	o.runtime.Registry = o.registry

	rt, err := channel.NewRuntime(o.runtime)
	if err != nil {
		return nil, errors.Wrap(err, "Hub", "NewHub", "create runtime")
	}

	return &Hub{
		rt:             rt,
		codec:          message.NewCodec(rt.Envelopes),
		outbound:       message.NewBuffer(rt.Envelopes),
		logger:         o.logger.With("component", "dataio-hub"),
		monitor:        o.monitor,
		components:     make(map[string]*component.Controller),
		strict:         o.strict,
		unknownLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		sendLimiter:    rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

// Runtime returns the runtime shared by everything attached to the hub.
func (h *Hub) Runtime() *channel.Runtime {
	return h.rt
}

// NewComponent creates a component controller on the hub's runtime. It is not
// registered.
func (h *Hub) NewComponent(identifier string) *component.Controller {
	return component.NewController(h.rt, identifier)
}

// AddTransport wraps tr in an adapter and registers it.
func (h *Hub) AddTransport(tr transport.Transport) (*Adapter, error) {
	a := NewAdapter(h.rt, tr)
	if err := h.RegisterAdapter(a); err != nil {
		return nil, err
	}
	return a, nil
}

// RegisterAdapter attaches a. Adapter names must be unique. If the hub is
// running the adapter's transport is started immediately.
func (h *Hub) RegisterAdapter(a *Adapter) error {
	for _, existing := range h.adapters {
		if existing == a {
			return nil
		}
		if existing.Name() == a.Name() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "RegisterAdapter",
				"register duplicate adapter "+a.Name())
		}
	}

	h.lifecycleMu.Lock()
	ctx := h.ctx
	started := h.started
	h.lifecycleMu.Unlock()
	if started {
		if err := a.Start(ctx); err != nil {
			return errors.Wrap(err, "Hub", "RegisterAdapter", "start adapter "+a.Name())
		}
	}

	h.adapters = append(h.adapters, a)
	h.reportHealth(a, a.Status())
	h.logger.Info("Adapter registered", "adapter", a.Name(), "id", a.ID())
	return nil
}

// UnregisterAdapter detaches a and releases its envelopes. A running
// transport is stopped. It reports whether a was registered.
func (h *Hub) UnregisterAdapter(a *Adapter) bool {
	i := slices.Index(h.adapters, a)
	if i < 0 {
		return false
	}
	h.adapters = slices.Delete(h.adapters, i, i+1)

	h.lifecycleMu.Lock()
	started := h.started
	h.lifecycleMu.Unlock()
	if started {
		if err := a.Stop(DefaultStopTimeout); err != nil {
			h.logger.Warn("Adapter did not stop cleanly", "adapter", a.Name(), "error", err)
		}
	}
	a.Close()

	if h.monitor != nil {
		h.monitor.Remove(a.Name())
	}
	h.logger.Info("Adapter unregistered", "adapter", a.Name(), "id", a.ID())
	return true
}

// Adapters returns the registered adapters in registration order.
func (h *Hub) Adapters() []*Adapter {
	return slices.Clone(h.adapters)
}

// RegisterComponent attaches ctrl, makes the hub its sender and announces its
// declaration to every adapter. A controller registered under the same
// identifier is replaced.
func (h *Hub) RegisterComponent(ctrl *component.Controller) {
	id := ctrl.Identifier()
	if existing, ok := h.components[id]; ok {
		if existing == ctrl {
			return
		}
		existing.SetSender(nil)
	} else {
		h.order = append(h.order, id)
		sort.Strings(h.order)
	}
	h.components[id] = ctrl
	ctrl.SetSender(h)

	h.SendOutgoingComponentMessage(ctrl.Declaration())
}

// UnregisterComponent detaches the controller registered as identifier and
// reports whether there was one.
func (h *Hub) UnregisterComponent(identifier string) bool {
	ctrl, ok := h.components[identifier]
	if !ok {
		return false
	}
	ctrl.SetSender(nil)
	delete(h.components, identifier)
	if i, found := slices.BinarySearch(h.order, identifier); found {
		h.order = slices.Delete(h.order, i, i+1)
	}
	return true
}

// Component returns the controller registered as identifier.
func (h *Hub) Component(identifier string) (*component.Controller, bool) {
	ctrl, ok := h.components[identifier]
	return ctrl, ok
}

// Components returns the registered component identifiers, sorted.
func (h *Hub) Components() []string {
	return slices.Clone(h.order)
}

// Declarations describes every registered component, sorted by identifier.
func (h *Hub) Declarations() []message.ComponentDeclaration {
	decls := make([]message.ComponentDeclaration, 0, len(h.order))
	for _, id := range h.order {
		decls = append(decls, h.components[id].Declaration())
	}
	return decls
}

// OnStatus subscribes fn to adapter status transitions.
func (h *Hub) OnStatus(fn StatusObserver) (remove func()) {
	h.observerID++
	id := h.observerID
	h.statusObservers = append(h.statusObservers, statusEntry{id: id, fn: fn})
	return func() {
		h.statusObservers = slices.DeleteFunc(h.statusObservers, func(e statusEntry) bool { return e.id == id })
	}
}

// OnDeclaration subscribes fn to component declarations from remote peers.
func (h *Hub) OnDeclaration(fn DeclarationObserver) (remove func()) {
	h.observerID++
	id := h.observerID
	h.declObservers = append(h.declObservers, declEntry{id: id, fn: fn})
	return func() {
		h.declObservers = slices.DeleteFunc(h.declObservers, func(e declEntry) bool { return e.id == id })
	}
}

// SendOutgoing implements channel.Sender.
func (h *Hub) SendOutgoing(env *message.Envelope) {
	h.SendOutgoingChannelMessage(env)
}

// SendOutgoingChannelMessage queues env for the next flush. The hub takes
// ownership of env.
func (h *Hub) SendOutgoingChannelMessage(env *message.Envelope) {
	if err := h.outbound.Enqueue(env); err != nil {
		_ = h.rt.Envelopes.Put(env)
		h.logger.Error("Failed to queue outgoing envelope", "key", env.Key.String(), "error", err)
	}
}

// SendOutgoingComponentMessage announces decl to every adapter right away.
func (h *Hub) SendOutgoingComponentMessage(decl message.ComponentDeclaration) {
	payload, err := h.codec.EncodeDeclarations([]message.ComponentDeclaration{decl})
	if err != nil {
		h.logger.Error("Failed to encode declaration", "declaration", decl.Identifier, "error", err)
		return
	}
	h.broadcast(payload, message.KindComponent)
}

// Tick runs one bus cycle: adapter status and handshakes, ingest and
// routing, component end of tick, then the outbound flush. It returns the
// routing mismatches of the cycle joined into one error; everything else is
// logged and counted.
func (h *Hub) Tick() error {
	start := time.Now()
	h.errs = h.errs[:0]

	for _, a := range h.adapters {
		h.processStatus(a)
	}

	for _, a := range h.adapters {
		batch := a.Tick()
		if decls := a.Declarations(); len(decls) > 0 {
			h.notifyDeclarations(a, decls)
		}
		for _, env := range batch {
			h.route(env)
		}
	}

	for _, id := range h.order {
		h.components[id].LateUpdate()
	}

	h.flushOutbound()

	h.stats.Ticks++
	if h.rt.Metrics != nil {
		h.rt.Metrics.RecordTick(time.Since(start))
	}

	err := errors.Join(h.errs...)
	clear(h.errs)
	return err
}

func (h *Hub) processStatus(a *Adapter) {
	h.statuses = a.StatusChanges(h.statuses[:0])
	joined, tracked := a.PeersJoined()
	for _, s := range h.statuses {
		h.logger.Debug("Adapter status changed", "adapter", a.Name(), "status", s.String())
		h.reportHealth(a, s)
		for _, entry := range slices.Clone(h.statusObservers) {
			h.safeCall("status", func() { entry.fn(a, s) })
		}
		if s == transport.StatusConnected && !tracked {
			h.handshake(a)
		}
	}
	if joined > 0 {
		h.logger.Debug("Peers joined", "adapter", a.Name(), "count", joined)
		h.handshake(a)
	}
}

// handshake tells freshly connected peers about every local component. The
// declarations go to every peer of the adapter; peers already attached
// receive them again, which is harmless.
func (h *Hub) handshake(a *Adapter) {
	h.stats.Handshakes++
	if err := a.Declare(h.Declarations()); err != nil {
		h.logger.Warn("Handshake failed", "adapter", a.Name(), "error", err)
	}
}

func (h *Hub) notifyDeclarations(a *Adapter, decls []message.ComponentDeclaration) {
	h.stats.Declarations += uint64(len(decls))
	for _, entry := range slices.Clone(h.declObservers) {
		h.safeCall("declaration", func() { entry.fn(a, decls) })
	}
}

func (h *Hub) route(env *message.Envelope) {
	ctrl, ok := h.components[env.Key.Component]
	if !ok {
		h.stats.UnknownComponent++
		if h.rt.Metrics != nil {
			h.rt.Metrics.RecordMessageDropped("unknown_component")
		}
		if h.unknownLimiter.Allow() {
			h.logger.Warn("Dropping envelope for unknown component",
				"component", env.Key.Component, "kind", env.Kind.String(), "key", env.Key.String())
		}
		return
	}

	h.stats.Routed++
	if err := ctrl.Route(env); err != nil {
		h.stats.RoutingErrors++
		if h.rt.Metrics != nil {
			h.rt.Metrics.RecordRoutingError()
		}
		h.errs = append(h.errs, err)
	}
}

func (h *Hub) flushOutbound() {
	h.flush = h.outbound.Drain(h.flush[:0])
	for _, env := range h.flush {
		// Adapters may hold on to the payload, so each envelope gets its own.
		payload, err := h.codec.Encode(env)
		if err != nil {
			h.stats.EncodeErrors++
			h.logger.Error("Failed to encode outgoing envelope", "key", env.Key.String(), "error", err)
			continue
		}
		h.broadcast(payload, env.Kind)
		h.stats.Flushed++
	}
	if err := h.rt.Envelopes.PutAll(h.flush); err != nil {
		h.logger.Error("Failed to release flushed envelopes", "error", err)
	}
	h.flush = h.flush[:0]
}

func (h *Hub) broadcast(payload []byte, kind message.Kind) {
	for _, a := range h.adapters {
		if err := a.Send(payload); err != nil {
			if errors.Is(err, errors.ErrNoConnection) {
				continue
			}
			if h.rt.Metrics != nil {
				h.rt.Metrics.RecordMessageDropped("send_failed")
			}
			if h.sendLimiter.Allow() {
				h.logger.Warn("Failed to send", "adapter", a.Name(), "kind", kind.String(), "error", err)
			}
			continue
		}
		if h.rt.Metrics != nil {
			h.rt.Metrics.RecordMessageSent(a.Name(), kind.String())
		}
	}
}

func (h *Hub) reportHealth(a *Adapter, s transport.Status) {
	if h.monitor == nil {
		return
	}
	st := a.Stats()
	h.monitor.Update(a.Name(), health.FromTransport(a.Name(), s, a.LastError(), &health.Metrics{
		ErrorCount:        int(st.DecodeErrors + st.SendErrors),
		MessagesProcessed: int64(st.Payloads),
	}))
}

func (h *Hub) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Observer panicked", "observer", kind, "panic", r)
		}
	}()
	fn()
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	return h.stats
}

// Start starts every registered adapter. If one fails the adapters already
// started are stopped again.
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Hub", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for i, a := range h.adapters {
		if err := a.Start(runCtx); err != nil {
			for _, prev := range h.adapters[:i] {
				_ = prev.Stop(DefaultStopTimeout)
			}
			cancel()
			return errors.Wrap(err, "Hub", "Start", "start adapters")
		}
	}

	h.ctx = runCtx
	h.cancel = cancel
	h.started = true
	h.logger.Info("Hub started", "adapters", len(h.adapters), "components", len(h.order))
	return nil
}

// Stop stops every adapter, waiting at most timeout for each.
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.started {
		return nil
	}

	var errs []error
	for _, a := range h.adapters {
		if err := a.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	h.cancel()
	h.started = false
	h.ctx = nil
	h.cancel = nil

	h.logger.Info("Hub stopped")
	return errors.Join(errs...)
}

// Run ticks the hub every interval until ctx is done. A tick that reports
// routing mismatches is logged, or ends Run when strict routing is enabled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Run", "check tick interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Tick(); err != nil {
				if h.strict {
					return errors.Wrap(err, "Hub", "Run", "tick")
				}
				h.logger.Error("Routing mismatch", "error", err)
			}
		}
	}
}

// Close releases everything the hub and its components hold. Destroy
// messages emitted by closing outputs are flushed one last time, so call
// Close before Stop if peers should see them.
func (h *Hub) Close() {
	for _, id := range h.order {
		h.components[id].Close()
	}
	h.flushOutbound()
	for _, a := range h.adapters {
		a.Close()
	}
	h.outbound.Reset()
}
