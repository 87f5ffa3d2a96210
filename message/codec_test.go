package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

func newTestCodec(t *testing.T) (*Codec, *Pool) {
	t.Helper()
	p, err := NewPool()
	require.NoError(t, err)
	return NewCodec(p), p
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, p := newTestCodec(t)

	tests := []struct {
		name string
		kind Kind
		key  ChannelInstanceKey
	}{
		{"dynamic control", KindControl, NewInstanceKey("touch", "contacts", "7")},
		{"static control", KindControl, NewStaticKey("touch", "contacts")},
		{"create", KindCreate, NewInstanceKey("touch", "contacts", "8")},
		{"destroy", KindDestroy, NewInstanceKey("touch", "contacts", "8")},
		{"event", KindEvent, NewStaticKey("touch", "gestures")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := p.Get(tt.kind, tt.key)
			env.Parameters.Set("position", 0.25, 0.75)
			env.Parameters.Set("pressure", 1)
			env.SetProperty("source", "table")

			data, err := codec.Encode(env)
			require.NoError(t, err)

			decoded, err := codec.Decode(data)
			require.NoError(t, err)
			require.False(t, decoded.IsComponent())

			got := decoded.Envelope
			assert.Equal(t, env.Kind, got.Kind)
			assert.Equal(t, env.Key, got.Key)
			assert.True(t, env.Parameters.Equal(&got.Parameters))
			assert.Equal(t, env.Parameters.Names(), got.Parameters.Names())
			assert.Equal(t, env.Properties, got.Properties)
			assert.True(t, got.Pooled())

			require.NoError(t, p.Put(env))
			require.NoError(t, p.Put(got))
		})
	}
	assert.Equal(t, 0, p.InUse())
}

func TestCodec_EncodeShape(t *testing.T) {
	codec, _ := newTestCodec(t)

	env := NewEnvelope(KindControl, NewStaticKey("touch", "contacts"))
	env.Parameters.Set("x", 1)

	data, err := codec.Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"control","component":"touch","channel":"contacts","parameters":{"x":[1]}}`, string(data))

	prefix := []byte("__")
	out, err := codec.AppendEncode(prefix, env)
	require.NoError(t, err)
	assert.Equal(t, "__"+string(data), string(out))
}

func TestCodec_DecodeStaticWhenInstanceAbsent(t *testing.T) {
	codec, _ := newTestCodec(t)

	decoded, err := codec.Decode([]byte(`{"type":"control","component":"c","channel":"ch","parameters":{"gain":[0.5]}}`))
	require.NoError(t, err)
	assert.True(t, decoded.Envelope.Key.IsStatic())
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec, p := newTestCodec(t)

	tests := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"missing type", `{"component":"c","channel":"ch"}`},
		{"unknown type", `{"type":"update","component":"c","channel":"ch"}`},
		{"missing component", `{"type":"control","channel":"ch"}`},
		{"missing channel", `{"type":"create","component":"c","instance":"1"}`},
		{"bad parameters", `{"type":"control","component":"c","channel":"ch","parameters":{"x":"1"}}`},
		{"bad properties", `{"type":"control","component":"c","channel":"ch","properties":{"x":1}}`},
		{"component without components", `{"type":"component"}`},
		{"component missing identifier", `{"type":"component","components":[{"channels":[]}]}`},
		{"component bad range", `{"type":"component","components":[{"identifier":"c","channels":[
			{"identifier":"ch","parameters":[{"identifier":"p","range":{"min":1,"max":0}}]}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrDecodeFailed))
			assert.True(t, errors.IsInvalid(err))
		})
	}
	assert.Equal(t, 0, p.InUse(), "failed decodes leave nothing outstanding")
}

func TestCodec_Declarations(t *testing.T) {
	codec, p := newTestCodec(t)

	decls := []ComponentDeclaration{{
		Identifier: "touch",
		Channels: []ChannelDeclaration{{
			Identifier: "contacts",
			Parameters: []ParameterDeclaration{
				{Identifier: "position", Range: Range{Min: 0, Max: 1}, DefaultValue: 0.5},
			},
		}},
	}}

	data, err := codec.EncodeDeclarations(decls)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"component","components":[{"identifier":"touch","channels":[
		{"identifier":"contacts","parameters":[{"identifier":"position","range":{"min":0,"max":1},"defaultValue":0.5}]}]}]}`,
		string(data))

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.True(t, decoded.IsComponent())
	if diff := cmp.Diff(decls, decoded.Declarations); diff != "" {
		t.Errorf("declarations changed on the wire (-sent +received):\n%s", diff)
	}
	assert.Equal(t, 0, p.InUse())
}

func TestCodec_EncodeDeclarationsEmptySlices(t *testing.T) {
	codec, _ := newTestCodec(t)

	data, err := codec.EncodeDeclarations([]ComponentDeclaration{
		{Identifier: "bare"},
		{Identifier: "mixer", Channels: []ChannelDeclaration{{Identifier: "faders"}}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"component","components":[{"identifier":"bare","channels":[]},`+
		`{"identifier":"mixer","channels":[{"identifier":"faders","parameters":[]}]}]}`, string(data))

	_, err = codec.Decode(data)
	require.NoError(t, err, "empty arrays satisfy the schema")

	data, err = codec.EncodeDeclarations(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"component","components":[]}`, string(data))
}

func TestCodec_EncodeRejectsComponentEnvelope(t *testing.T) {
	codec, _ := newTestCodec(t)
	_, err := codec.Encode(NewEnvelope(KindComponent, NewStaticKey("a", "b")))
	assert.Error(t, err)
}
