package message

import (
	"encoding/json"
	"fmt"

	"github.com/c360/controlbus/errors"
)

// wireMessage is the JSON object exchanged with endpoints.
type wireMessage struct {
	Type       Kind              `json:"type"`
	Component  string            `json:"component,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Instance   string            `json:"instance,omitempty"`
	Parameters *ParameterSet     `json:"parameters,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`

	Components []ComponentDeclaration `json:"components,omitempty"`
}

// Decoded is the result of decoding one wire message. Exactly one of
// Envelope and Declarations is set.
type Decoded struct {
	Envelope     *Envelope
	Declarations []ComponentDeclaration
}

// IsComponent reports whether the message carried component declarations.
func (d Decoded) IsComponent() bool {
	return d.Envelope == nil
}

// Codec converts between wire JSON and pooled envelopes.
type Codec struct {
	pool *Pool
}

// NewCodec returns a codec that draws decoded envelopes from pool.
func NewCodec(pool *Pool) *Codec {
	return &Codec{pool: pool}
}

// Decode parses one wire message.
//
// Channel messages decode straight into a pooled envelope, which the caller
// owns. Component messages are validated against the declaration schema and
// returned as declarations. Any failure wraps ErrDecodeFailed and leaves no
// envelope outstanding.
func (c *Codec) Decode(data []byte) (Decoded, error) {
	env := c.pool.Get(KindUnknown, ChannelInstanceKey{})

	wire := wireMessage{
		Parameters: &env.Parameters,
		Properties: env.Properties,
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		_ = c.pool.Put(env)
		return Decoded{}, decodeError(err, "unmarshal message")
	}

	switch wire.Type {
	case KindCreate, KindControl, KindDestroy, KindEvent:
	case KindComponent:
		_ = c.pool.Put(env)
		return c.decodeComponent(data, wire.Components)
	case KindUnknown:
		_ = c.pool.Put(env)
		return Decoded{}, decodeError(errors.ErrMissingField, "read type")
	default:
		_ = c.pool.Put(env)
		return Decoded{}, decodeError(errors.ErrUnknownKind, "read type")
	}

	if wire.Component == "" || wire.Channel == "" {
		_ = c.pool.Put(env)
		return Decoded{}, decodeError(errors.ErrMissingField,
			fmt.Sprintf("read %s routing key", wire.Type))
	}

	env.Kind = wire.Type
	env.Key = ChannelInstanceKey{
		Component: wire.Component,
		Channel:   wire.Channel,
		Instance:  wire.Instance,
	}
	env.Properties = wire.Properties
	return Decoded{Envelope: env}, nil
}

func (c *Codec) decodeComponent(data []byte, decls []ComponentDeclaration) (Decoded, error) {
	if err := ValidateComponentMessage(data); err != nil {
		return Decoded{}, decodeError(err, "validate component message")
	}
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return Decoded{}, decodeError(err, "validate declaration "+d.Identifier)
		}
	}
	if decls == nil {
		decls = []ComponentDeclaration{}
	}
	return Decoded{Declarations: decls}, nil
}

func decodeError(cause error, action string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrDecodeFailed, cause),
		"Codec", "Decode", action)
}

// Encode renders a channel envelope as wire JSON.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	return c.AppendEncode(nil, env)
}

// AppendEncode appends the wire JSON of env to dst.
func (c *Codec) AppendEncode(dst []byte, env *Envelope) ([]byte, error) {
	switch env.Kind {
	case KindCreate, KindControl, KindDestroy, KindEvent:
	case KindComponent, KindUnknown:
		return dst, errors.WrapInvalid(errors.ErrUnknownKind, "Codec", "Encode",
			"encode "+env.Kind.String()+" envelope")
	default:
		return dst, errors.WrapInvalid(errors.ErrUnknownKind, "Codec", "Encode",
			"encode "+env.Kind.String()+" envelope")
	}

	wire := wireMessage{
		Type:       env.Kind,
		Component:  env.Key.Component,
		Channel:    env.Key.Channel,
		Instance:   env.Key.Instance,
		Properties: env.Properties,
	}
	if env.Parameters.Len() > 0 {
		wire.Parameters = &env.Parameters
	}

	data, err := json.Marshal(&wire)
	if err != nil {
		return dst, errors.WrapInvalid(err, "Codec", "Encode", "marshal "+env.Key.String())
	}
	return append(dst, data...), nil
}

// EncodeDeclarations renders a component message carrying decls.
func (c *Codec) EncodeDeclarations(decls []ComponentDeclaration) ([]byte, error) {
	msg := struct {
		Type       Kind                   `json:"type"`
		Components []ComponentDeclaration `json:"components"`
	}{
		Type:       KindComponent,
		Components: wireDeclarations(decls),
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Codec", "EncodeDeclarations", "marshal declarations")
	}
	return data, nil
}

// wireDeclarations copies decls with nil slices replaced by empty ones; the
// schema rejects null arrays.
func wireDeclarations(decls []ComponentDeclaration) []ComponentDeclaration {
	out := make([]ComponentDeclaration, len(decls))
	for i, d := range decls {
		channels := make([]ChannelDeclaration, len(d.Channels))
		for j, ch := range d.Channels {
			if ch.Parameters == nil {
				ch.Parameters = []ParameterDeclaration{}
			}
			channels[j] = ch
		}
		out[i] = ComponentDeclaration{Identifier: d.Identifier, Channels: channels}
	}
	return out
}
