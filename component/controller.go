package component

import (
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/message"
)

// EventObserver receives Event envelopes routed to a component. The envelope
// is only valid for the duration of the call.
type EventObserver func(ctrl *Controller, env *message.Envelope)

// Stats counts what a Controller has routed.
type Stats struct {
	Routed         uint64
	Events         uint64
	UnknownChannel uint64
	Sent           uint64
}

// Controller groups the channels of one component. Inbound envelopes are
// routed to channel controllers by channel id; outbound envelopes from the
// component's outputs are forwarded to the upstream Sender, normally the hub.
//
// A Controller is driven from the tick goroutine only.
type Controller struct {
	key    message.ComponentKey
	rt     *channel.Runtime
	logger *slog.Logger
	sender channel.Sender

	channels map[string]*channel.Controller
	outputs  map[string]*channel.Output

	observers  []observerEntry
	observerID uint64

	unknownLimiter *rate.Limiter
	stats          Stats
}

type observerEntry struct {
	id uint64
	fn EventObserver
}

// NewController creates an empty controller for component identifier.
func NewController(rt *channel.Runtime, identifier string) *Controller {
	return &Controller{
		key:            message.ComponentKey{Component: identifier},
		rt:             rt,
		logger:         rt.Logger.With("component", "component-controller", "id", identifier),
		channels:       make(map[string]*channel.Controller),
		outputs:        make(map[string]*channel.Output),
		unknownLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Identifier returns the component id.
func (c *Controller) Identifier() string {
	return c.key.Component
}

// Key returns the component key.
func (c *Controller) Key() message.ComponentKey {
	return c.key
}

// Runtime returns the runtime the controller was built with.
func (c *Controller) Runtime() *channel.Runtime {
	return c.rt
}

// SetSender sets the upstream destination for outbound envelopes.
func (c *Controller) SetSender(s channel.Sender) {
	c.sender = s
}

// NewChannel creates a channel controller for decl and registers it.
func (c *Controller) NewChannel(decl message.ChannelDeclaration, opts ...channel.Option) *channel.Controller {
	ctrl := channel.NewController(c.rt, c.key.Component, decl, opts...)
	c.RegisterChannelController(ctrl)
	return ctrl
}

// NewOutput creates a channel output for decl and registers it.
func (c *Controller) NewOutput(decl message.ChannelDeclaration) *channel.Output {
	out := channel.NewOutput(c.rt, c.key.Component, decl)
	c.RegisterChannelOutput(out)
	return out
}

// RegisterChannelController adds ctrl under its identifier, replacing any
// controller already registered with that id. Empty identifiers are ignored.
func (c *Controller) RegisterChannelController(ctrl *channel.Controller) {
	if ctrl == nil || ctrl.Identifier() == "" {
		return
	}
	if prev, ok := c.channels[ctrl.Identifier()]; ok && prev != ctrl {
		c.logger.Debug("Replacing channel controller", "channel", ctrl.Identifier())
	}
	c.channels[ctrl.Identifier()] = ctrl
}

// UnregisterChannelController removes the controller registered under
// ctrl's identifier.
func (c *Controller) UnregisterChannelController(ctrl *channel.Controller) {
	if ctrl == nil || ctrl.Identifier() == "" {
		return
	}
	delete(c.channels, ctrl.Identifier())
}

// RegisterChannelOutput adds out and points its sender at this controller.
func (c *Controller) RegisterChannelOutput(out *channel.Output) {
	if out == nil || out.Identifier() == "" {
		return
	}
	out.SetSender(c)
	c.outputs[out.Identifier()] = out
}

// UnregisterChannelOutput removes out and detaches its sender.
func (c *Controller) UnregisterChannelOutput(out *channel.Output) {
	if out == nil || out.Identifier() == "" {
		return
	}
	if cur, ok := c.outputs[out.Identifier()]; ok && cur == out {
		delete(c.outputs, out.Identifier())
		out.SetSender(nil)
	}
}

// Channel returns the channel controller registered under id.
func (c *Controller) Channel(id string) (*channel.Controller, bool) {
	ctrl, ok := c.channels[id]
	return ctrl, ok
}

// Output returns the channel output registered under id.
func (c *Controller) Output(id string) (*channel.Output, bool) {
	out, ok := c.outputs[id]
	return out, ok
}

// OnEvent registers an observer for Event envelopes addressed to this
// component and returns a function that removes it.
func (c *Controller) OnEvent(fn EventObserver) (remove func()) {
	c.observerID++
	id := c.observerID
	c.observers = append(c.observers, observerEntry{id: id, fn: fn})

	return func() {
		idx := slices.IndexFunc(c.observers, func(e observerEntry) bool { return e.id == id })
		if idx >= 0 {
			c.observers = slices.Concat(c.observers[:idx], c.observers[idx+1:])
		}
	}
}

// Route delivers env to the channel controller that owns its channel.
//
// Event envelopes go to the OnEvent observers only; channel controllers never
// see them. An unknown channel is logged, counted and dropped without an
// error. A *channel.RoutingError from the channel controller is returned
// unchanged.
func (c *Controller) Route(env *message.Envelope) error {
	if env.Kind == message.KindEvent {
		c.stats.Events++
		c.notifyEvent(env)
	}

	ctrl, ok := c.channels[env.Key.Channel]
	if !ok {
		if env.Kind == message.KindEvent {
			return nil
		}
		c.stats.UnknownChannel++
		if c.rt.Metrics != nil {
			c.rt.Metrics.RecordMessageDropped("unknown_channel")
		}
		if c.unknownLimiter.Allow() {
			c.logger.Warn("Dropping envelope for unknown channel",
				"channel", env.Key.Channel, "kind", env.Kind.String(), "key", env.Key.String())
		}
		return nil
	}

	c.stats.Routed++
	if env.Kind == message.KindEvent {
		// Channel controllers have no use for events.
		return nil
	}
	return ctrl.Receive(env)
}

func (c *Controller) notifyEvent(env *message.Envelope) {
	for _, entry := range c.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Event observer panicked", "observer", entry.id, "panic", r)
				}
			}()
			entry.fn(c, env)
		}()
	}
}

// SendOutgoing forwards env to the upstream sender. Without one the envelope
// goes straight back to the pool.
func (c *Controller) SendOutgoing(env *message.Envelope) {
	if c.sender == nil {
		_ = c.rt.Envelopes.Put(env)
		return
	}
	c.stats.Sent++
	c.sender.SendOutgoing(env)
}

// Declaration describes the component and every registered channel, sorted
// by channel id. Outputs and controllers sharing an id are declared once.
func (c *Controller) Declaration() message.ComponentDeclaration {
	byID := make(map[string]message.ChannelDeclaration, len(c.channels)+len(c.outputs))
	for id, out := range c.outputs {
		byID[id] = out.Declaration()
	}
	for id, ctrl := range c.channels {
		byID[id] = ctrl.Declaration()
	}

	decl := message.ComponentDeclaration{
		Identifier: c.key.Component,
		Channels:   make([]message.ChannelDeclaration, 0, len(byID)),
	}
	for _, ch := range byID {
		decl.Channels = append(decl.Channels, ch)
	}
	sort.Slice(decl.Channels, func(i, j int) bool {
		return decl.Channels[i].Identifier < decl.Channels[j].Identifier
	})
	return decl
}

// LateUpdate ends the tick for every channel controller and output.
func (c *Controller) LateUpdate() {
	for _, ctrl := range c.channels {
		ctrl.LateUpdate()
	}
	for _, out := range c.outputs {
		out.LateUpdate()
	}
}

// Stats returns a snapshot of the routing counters.
func (c *Controller) Stats() Stats {
	return c.stats
}

// Close releases every instance held by registered channels and outputs.
func (c *Controller) Close() {
	for _, out := range c.outputs {
		out.Close()
	}
	for _, ctrl := range c.channels {
		ctrl.Close()
	}
}
