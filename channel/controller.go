package channel

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// LivePolicy decides what happens to live instances at the end of a tick.
type LivePolicy int

const (
	// RetainLive keeps live instances until a destroy is processed.
	RetainLive LivePolicy = iota

	// ClearLiveEachTick releases every live instance at the end of each tick,
	// so every instance has to be re-created by a fresh create message each
	// tick. This matches hosts that re-announce all contacts every frame.
	ClearLiveEachTick
)

// String returns the configuration name of the policy.
func (p LivePolicy) String() string {
	switch p {
	case RetainLive:
		return "retain"
	case ClearLiveEachTick:
		return "clear_each_tick"
	default:
		return fmt.Sprintf("LivePolicy(%d)", int(p))
	}
}

// ParseLivePolicy maps a configuration name to a LivePolicy.
func ParseLivePolicy(s string) (LivePolicy, error) {
	switch s {
	case "", "retain":
		return RetainLive, nil
	case "clear_each_tick":
		return ClearLiveEachTick, nil
	default:
		return RetainLive, errors.WrapInvalid(errors.ErrInvalidConfig, "LivePolicy", "ParseLivePolicy",
			fmt.Sprintf("parse %q", s))
	}
}

// ControllerStats counts what a Controller has processed.
type ControllerStats struct {
	Received   uint64
	Created    uint64
	Controlled uint64
	Destroyed  uint64
	Static     uint64
	Dropped    uint64
	Mismatched uint64
	Panics     uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLivePolicy sets the end-of-tick policy for live instances.
func WithLivePolicy(policy LivePolicy) Option {
	return func(c *Controller) {
		c.policy = policy
	}
}

// Controller owns one channel's instances. It turns routed envelopes into
// lifecycle events for its listeners and returns destroyed instances to the
// pool at the end of each tick.
//
// A Controller is driven from the tick goroutine only.
type Controller struct {
	key         message.ChannelKey
	declaration message.ChannelDeclaration
	rt          *Runtime
	logger      *slog.Logger
	policy      LivePolicy

	live   map[string]*Instance
	dead   []*Instance
	static message.ParameterSet

	listeners  []listenerEntry
	listenerID uint64

	dropLimiter *rate.Limiter
	stats       ControllerStats
}

// NewController creates the controller for channel decl of component.
// Static parameters start at the declared defaults.
func NewController(rt *Runtime, component string, decl message.ChannelDeclaration, opts ...Option) *Controller {
	c := &Controller{
		key:         message.ChannelKey{Component: component, Channel: decl.Identifier},
		declaration: decl,
		rt:          rt,
		live:        make(map[string]*Instance),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = rt.Logger.With("component", "channel-controller", "channel", c.key.String())
	decl.ApplyDefaults(&c.static)
	return c
}

// Identifier returns the channel id.
func (c *Controller) Identifier() string {
	return c.key.Channel
}

// Key returns the (component, channel) pair the controller owns.
func (c *Controller) Key() message.ChannelKey {
	return c.key
}

// Declaration returns the channel declaration sent in handshakes.
func (c *Controller) Declaration() message.ChannelDeclaration {
	return c.declaration
}

// Policy returns the live-instance policy.
func (c *Controller) Policy() LivePolicy {
	return c.policy
}

// AddListener registers l and returns a function that removes it.
func (c *Controller) AddListener(l Listener) (remove func()) {
	c.listenerID++
	id := c.listenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: l})

	return func() {
		idx := slices.IndexFunc(c.listeners, func(e listenerEntry) bool { return e.id == id })
		if idx < 0 {
			return
		}
		// Copy so a dispatch in progress keeps iterating its own slice.
		c.listeners = slices.Concat(c.listeners[:idx], c.listeners[idx+1:])
	}
}

// Receive applies one routed envelope.
//
// An envelope whose component or channel differs from the controller's
// returns a *RoutingError and changes nothing. Kinds with no meaning for the
// addressed target are logged and dropped.
func (c *Controller) Receive(env *message.Envelope) error {
	if env.Key.ChannelKey() != c.key {
		c.stats.Mismatched++
		return &RoutingError{Controller: c.key, Kind: env.Kind, Key: env.Key}
	}
	c.stats.Received++

	if env.Key.IsStatic() {
		c.receiveStatic(env)
		return nil
	}

	switch env.Kind {
	case message.KindCreate:
		inst := c.fetch(env.Key.Instance)
		inst.Parameters.Apply(&env.Parameters)
		c.stats.Created++
		c.dispatch("create", func(l Listener) { l.OnCreateInstance(c, inst) })

	case message.KindControl:
		inst := c.fetch(env.Key.Instance)
		inst.Parameters.Apply(&env.Parameters)
		c.stats.Controlled++
		c.dispatch("control", func(l Listener) { l.OnControlInstance(c, inst) })

	case message.KindDestroy:
		inst := c.fetch(env.Key.Instance)
		delete(c.live, inst.identifier)
		c.dead = append(c.dead, inst)
		inst.Parameters.Apply(&env.Parameters)
		c.stats.Destroyed++
		c.dispatch("destroy", func(l Listener) { l.OnDestroyInstance(c, inst) })

	case message.KindEvent, message.KindComponent, message.KindUnknown:
		c.drop(env, "unexpected kind for instance")
	}
	return nil
}

func (c *Controller) receiveStatic(env *message.Envelope) {
	switch env.Kind {
	case message.KindControl:
		c.static.Apply(&env.Parameters)
		c.stats.Static++
		c.dispatch("static", func(l Listener) { l.OnStaticControl(c, &c.static) })
	case message.KindCreate, message.KindDestroy, message.KindEvent, message.KindComponent, message.KindUnknown:
		c.drop(env, "unexpected kind for static target")
	}
}

// fetch returns the live instance id, creating it from the pool if needed.
func (c *Controller) fetch(id string) *Instance {
	if inst, ok := c.live[id]; ok {
		return inst
	}
	inst := c.rt.Instances.Get(id)
	c.live[id] = inst
	return inst
}

func (c *Controller) drop(env *message.Envelope, reason string) {
	c.stats.Dropped++
	c.rt.recordDrop("unexpected_kind")
	if c.dropLimiter.Allow() {
		c.logger.Warn("Dropping envelope", "reason", reason, "kind", env.Kind.String(), "key", env.Key.String())
	}
}

func (c *Controller) dispatch(event string, fn func(Listener)) {
	for _, entry := range c.listeners {
		c.invoke(event, entry, fn)
	}
}

func (c *Controller) invoke(event string, entry listenerEntry, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.Panics++
			c.logger.Error("Listener panicked", "event", event, "listener", entry.id, "panic", r)
		}
	}()
	fn(entry.listener)
}

// LateUpdate ends the tick: destroyed instances go back to the pool and,
// under ClearLiveEachTick, so does every live instance.
func (c *Controller) LateUpdate() {
	for i, inst := range c.dead {
		c.release(inst)
		c.dead[i] = nil
	}
	c.dead = c.dead[:0]

	if c.policy == ClearLiveEachTick {
		for id, inst := range c.live {
			c.release(inst)
			delete(c.live, id)
		}
	}
}

func (c *Controller) release(inst *Instance) {
	if err := c.rt.Instances.Put(inst); err != nil {
		c.logger.Error("Failed to release instance", "instance", inst.identifier, "error", err)
	}
}

// Instance returns the live instance id.
func (c *Controller) Instance(id string) (*Instance, bool) {
	inst, ok := c.live[id]
	return inst, ok
}

// LiveInstances returns the live instances ordered by id.
func (c *Controller) LiveInstances() []*Instance {
	out := make([]*Instance, 0, len(c.live))
	for _, inst := range c.live {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identifier < out[j].identifier })
	return out
}

// LiveCount returns the number of live instances.
func (c *Controller) LiveCount() int {
	return len(c.live)
}

// StaticParameters returns the channel's static parameter state.
func (c *Controller) StaticParameters() *message.ParameterSet {
	return &c.static
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() ControllerStats {
	return c.stats
}

// Close releases every instance the controller holds.
func (c *Controller) Close() {
	c.LateUpdate()
	for id, inst := range c.live {
		c.release(inst)
		delete(c.live, id)
	}
}
