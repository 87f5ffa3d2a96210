// Package component groups the channels of one logical component.
//
// A Controller routes inbound envelopes to channel controllers by channel
// id, forwards outbound envelopes from its channel outputs to the hub, and
// produces the component declaration sent to remote peers during the
// handshake.
//
// Basic usage:
//
//	comp := component.NewController(rt, "touch")
//	contacts := comp.NewChannel(message.ChannelDeclaration{Identifier: "contacts"})
//	contacts.AddListener(channel.ListenerFuncs{
//		Create: func(_ *channel.Controller, inst *channel.Instance) {
//			// new contact
//		},
//	})
//	hub.RegisterComponent(comp)
package component
