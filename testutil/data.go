package testutil

import (
	"github.com/c360/controlbus/message"
)

// TouchDeclaration is a component with one instanced channel and one channel
// used only through its static target.
func TouchDeclaration() message.ComponentDeclaration {
	return message.ComponentDeclaration{
		Identifier: "touch",
		Channels: []message.ChannelDeclaration{
			{
				Identifier: "contacts",
				Parameters: []message.ParameterDeclaration{
					{Identifier: "position", Range: message.Range{Min: 0, Max: 1}, DefaultValue: 0.5},
					{Identifier: "pressure", Range: message.Range{Min: 0, Max: 1}, DefaultValue: 0},
				},
			},
			{
				Identifier: "settings",
				Parameters: []message.ParameterDeclaration{
					{Identifier: "gain", Range: message.Range{Min: 0, Max: 10}, DefaultValue: 1},
				},
			},
		},
	}
}

// Wire messages addressed to TouchDeclaration.
const (
	CreateContact1  = `{"type":"create","component":"touch","channel":"contacts","instance":"1","parameters":{"position":[0.1,0.2]}}`
	ControlContact1 = `{"type":"control","component":"touch","channel":"contacts","instance":"1","parameters":{"pressure":[0.8]}}`
	DestroyContact1 = `{"type":"destroy","component":"touch","channel":"contacts","instance":"1"}`
	StaticGain      = `{"type":"control","component":"touch","channel":"settings","parameters":{"gain":[2.5]}}`
	TapEvent        = `{"type":"event","component":"touch","channel":"taps","instance":"1","properties":{"button":"left"}}`
	UnknownChannel  = `{"type":"create","component":"touch","channel":"missing","instance":"1"}`
)

// RemoteDeclaration is a component message as a remote peer announces it.
const RemoteDeclaration = `{"type":"component","components":[{"identifier":"remote","channels":[` +
	`{"identifier":"faders","parameters":[{"identifier":"level","range":{"min":0,"max":1},"defaultValue":0}]}]}]}`

// MalformedMessages fail to decode for different reasons.
var MalformedMessages = []string{
	`not json`,
	`{"type":"teleport","component":"touch","channel":"contacts"}`,
	`{"type":"create","channel":"contacts"}`,
	`{"type":"component","components":[{"identifier":""}]}`,
}
