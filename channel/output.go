package channel

import (
	"log/slog"
	"sort"

	"github.com/c360/controlbus/message"
)

// Sender accepts outbound envelopes and takes ownership of them.
type Sender interface {
	SendOutgoing(env *message.Envelope)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(env *message.Envelope)

// SendOutgoing calls f(env).
func (f SenderFunc) SendOutgoing(env *message.Envelope) {
	f(env)
}

// Output is the local producing side of a channel. It owns the instances it
// creates and emits create, control and destroy envelopes for them to its
// Sender, usually the component controller it is registered with.
type Output struct {
	key         message.ChannelKey
	declaration message.ChannelDeclaration
	rt          *Runtime
	logger      *slog.Logger
	sender      Sender

	live   map[string]*Instance
	dead   []*Instance
	static message.ParameterSet
}

// NewOutput creates the output for channel decl of component.
func NewOutput(rt *Runtime, component string, decl message.ChannelDeclaration) *Output {
	o := &Output{
		key:         message.ChannelKey{Component: component, Channel: decl.Identifier},
		declaration: decl,
		rt:          rt,
		live:        make(map[string]*Instance),
	}
	o.logger = rt.Logger.With("component", "channel-output", "channel", o.key.String())
	decl.ApplyDefaults(&o.static)
	return o
}

// Identifier returns the channel id.
func (o *Output) Identifier() string {
	return o.key.Channel
}

// Key returns the (component, channel) pair the output writes to.
func (o *Output) Key() message.ChannelKey {
	return o.key
}

// Declaration returns the channel declaration sent in handshakes.
func (o *Output) Declaration() message.ChannelDeclaration {
	return o.declaration
}

// SetSender sets where emitted envelopes go. A nil sender discards them.
func (o *Output) SetSender(s Sender) {
	o.sender = s
}

// FetchInstance returns the live instance id. A new instance starts at the
// declared defaults and is announced with a create envelope.
func (o *Output) FetchInstance(id string) *Instance {
	if inst, ok := o.live[id]; ok {
		return inst
	}

	inst := o.rt.Instances.Get(id)
	o.declaration.ApplyDefaults(&inst.Parameters)
	o.live[id] = inst
	o.emit(message.KindCreate, id, &inst.Parameters)
	return inst
}

// Control applies params to instance id, creating it first if needed, and
// emits a control envelope carrying params.
func (o *Output) Control(id string, params *message.ParameterSet) *Instance {
	inst := o.FetchInstance(id)
	inst.Parameters.Apply(params)
	o.emit(message.KindControl, id, params)
	return inst
}

// Destroy ends instance id and emits a destroy envelope. The instance stays
// readable until LateUpdate. It reports whether the instance was live.
func (o *Output) Destroy(id string) bool {
	inst, ok := o.live[id]
	if !ok {
		return false
	}
	delete(o.live, id)
	o.dead = append(o.dead, inst)
	o.emit(message.KindDestroy, id, nil)
	return true
}

// StaticControl applies params to the static target and emits it.
func (o *Output) StaticControl(params *message.ParameterSet) {
	o.static.Apply(params)
	o.emit(message.KindControl, "", params)
}

// Event emits a one-off event carrying params. Instance may be empty.
func (o *Output) Event(instance string, params *message.ParameterSet) {
	o.emit(message.KindEvent, instance, params)
}

func (o *Output) emit(kind message.Kind, instance string, params *message.ParameterSet) {
	env := o.rt.Envelopes.Get(kind, message.ChannelInstanceKey{
		Component: o.key.Component,
		Channel:   o.key.Channel,
		Instance:  instance,
	})
	env.Parameters.Apply(params)

	if o.sender == nil {
		o.logger.Debug("No sender registered, discarding", "kind", kind.String(), "instance", instance)
		_ = o.rt.Envelopes.Put(env)
		return
	}
	o.sender.SendOutgoing(env)
}

// Instance returns the live instance id.
func (o *Output) Instance(id string) (*Instance, bool) {
	inst, ok := o.live[id]
	return inst, ok
}

// LiveInstances returns the live instances ordered by id.
func (o *Output) LiveInstances() []*Instance {
	out := make([]*Instance, 0, len(o.live))
	for _, inst := range o.live {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identifier < out[j].identifier })
	return out
}

// StaticParameters returns the static parameter state.
func (o *Output) StaticParameters() *message.ParameterSet {
	return &o.static
}

// LateUpdate returns destroyed instances to the pool.
func (o *Output) LateUpdate() {
	for i, inst := range o.dead {
		if err := o.rt.Instances.Put(inst); err != nil {
			o.logger.Error("Failed to release instance", "instance", inst.identifier, "error", err)
		}
		o.dead[i] = nil
	}
	o.dead = o.dead[:0]
}

// Close destroys every live instance and releases everything.
func (o *Output) Close() {
	for _, inst := range o.LiveInstances() {
		o.Destroy(inst.identifier)
	}
	o.LateUpdate()
}
