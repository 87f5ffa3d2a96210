package message

import "strings"

// ComponentKey identifies a component (a logical device or source).
type ComponentKey struct {
	Component string
}

// String returns the component identifier.
func (k ComponentKey) String() string {
	return k.Component
}

// ChannelKey identifies one channel within a component.
type ChannelKey struct {
	Component string
	Channel   string
}

// ComponentKey projects the key onto its component.
func (k ChannelKey) ComponentKey() ComponentKey {
	return ComponentKey{Component: k.Component}
}

// String returns "component/channel".
func (k ChannelKey) String() string {
	return k.Component + "/" + k.Channel
}

// ChannelInstanceKey is the routing key carried by every envelope.
//
// An empty Instance addresses the channel's static target: the single,
// non-instanced parameter state every channel carries. A non-empty Instance
// addresses one dynamically created instance.
//
// ChannelInstanceKey is comparable and is used directly as a map key.
type ChannelInstanceKey struct {
	Component string
	Channel   string
	Instance  string
}

// NewInstanceKey returns a key addressing a dynamic instance.
func NewInstanceKey(component, channel, instance string) ChannelInstanceKey {
	return ChannelInstanceKey{Component: component, Channel: channel, Instance: instance}
}

// NewStaticKey returns a key addressing the static target of a channel.
func NewStaticKey(component, channel string) ChannelInstanceKey {
	return ChannelInstanceKey{Component: component, Channel: channel}
}

// IsStatic reports whether the key addresses the channel's static target.
func (k ChannelInstanceKey) IsStatic() bool {
	return k.Instance == ""
}

// ChannelKey projects the key onto its channel.
func (k ChannelInstanceKey) ChannelKey() ChannelKey {
	return ChannelKey{Component: k.Component, Channel: k.Channel}
}

// ComponentKey projects the key onto its component.
func (k ChannelInstanceKey) ComponentKey() ComponentKey {
	return ComponentKey{Component: k.Component}
}

// String returns "component/channel/instance", or "component/channel" for a
// static key.
func (k ChannelInstanceKey) String() string {
	var b strings.Builder
	b.Grow(len(k.Component) + len(k.Channel) + len(k.Instance) + 2)
	b.WriteString(k.Component)
	b.WriteByte('/')
	b.WriteString(k.Channel)
	if k.Instance != "" {
		b.WriteByte('/')
		b.WriteString(k.Instance)
	}
	return b.String()
}
