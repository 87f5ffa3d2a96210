package dataio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/testutil"
)

func newTestAdapter(t *testing.T) (*Adapter, *testutil.MockTransport, *channel.Runtime) {
	t.Helper()
	rt := channel.MustRuntime(nil)
	mock := testutil.NewMockTransport("mock")
	return NewAdapter(rt, mock), mock, rt
}

func TestAdapter_DecodesAndCoalesces(t *testing.T) {
	a, mock, _ := newTestAdapter(t)
	mock.DeliverString(testutil.CreateContact1, testutil.ControlContact1, testutil.ControlContact1)

	batch := a.Tick()
	require.Len(t, batch, 2)
	assert.Equal(t, message.KindCreate, batch[0].Kind)
	assert.Equal(t, message.KindControl, batch[1].Kind)
	assert.Equal(t, message.NewInstanceKey("touch", "contacts", "1"), batch[1].Key)

	pressure, ok := batch[1].Parameters.Get("pressure")
	require.True(t, ok)
	assert.Equal(t, []float64{0.8}, pressure, "later control overwrites by name")

	stats := a.Stats()
	assert.Equal(t, uint64(3), stats.Payloads)
	assert.Equal(t, uint64(3), stats.Decoded)
	assert.Equal(t, uint64(1), a.BufferStats().Coalesced)
}

func TestAdapter_DestroyCancelsPending(t *testing.T) {
	a, mock, rt := newTestAdapter(t)
	mock.DeliverString(testutil.CreateContact1, testutil.ControlContact1, testutil.DestroyContact1)

	batch := a.Tick()
	require.Len(t, batch, 1)
	assert.Equal(t, message.KindDestroy, batch[0].Kind)
	assert.Equal(t, 1, rt.Envelopes.InUse())
}

func TestAdapter_ReleasesBatchOneTickLater(t *testing.T) {
	a, mock, rt := newTestAdapter(t)
	mock.DeliverString(testutil.CreateContact1, testutil.StaticGain)

	batch := a.Tick()
	require.Len(t, batch, 2)
	assert.Equal(t, 2, rt.Envelopes.InUse(), "batch stays valid until the next tick")

	assert.Empty(t, a.Tick())
	assert.Equal(t, 0, rt.Envelopes.InUse())
}

func TestAdapter_DecodeErrors(t *testing.T) {
	a, mock, rt := newTestAdapter(t)
	mock.DeliverString(testutil.MalformedMessages...)
	mock.DeliverString(testutil.CreateContact1)

	batch := a.Tick()
	assert.Len(t, batch, 1, "good messages survive bad neighbours")
	assert.Equal(t, uint64(len(testutil.MalformedMessages)), a.Stats().DecodeErrors)
	assert.Equal(t, 1, rt.Envelopes.InUse())
}

func TestAdapter_Declarations(t *testing.T) {
	a, mock, rt := newTestAdapter(t)
	mock.DeliverString(testutil.RemoteDeclaration)

	assert.Empty(t, a.Tick(), "component messages bypass the buffer")
	decls := a.Declarations()
	require.Len(t, decls, 1)
	assert.Equal(t, "remote", decls[0].Identifier)
	assert.Equal(t, 0, rt.Envelopes.InUse())

	a.Tick()
	assert.Empty(t, a.Declarations())
}

func TestAdapter_Declare(t *testing.T) {
	a, mock, rt := newTestAdapter(t)

	require.NoError(t, a.Declare([]message.ComponentDeclaration{testutil.TouchDeclaration()}))

	sent := mock.Sent()
	require.Len(t, sent, 1)
	decoded, err := message.NewCodec(rt.Envelopes).Decode(sent[0])
	require.NoError(t, err)
	require.True(t, decoded.IsComponent())
	assert.Equal(t, []message.ComponentDeclaration{testutil.TouchDeclaration()}, decoded.Declarations)
}

func TestAdapter_SendErrors(t *testing.T) {
	a, mock, _ := newTestAdapter(t)

	mock.SendErr = errors.WrapTransient(errors.ErrNoConnection, "mock", "Send", "send")
	require.Error(t, a.Send([]byte("x")))
	assert.Empty(t, a.LastError(), "missing connection is not a failure")

	mock.SendErr = errors.New("broken pipe")
	err := a.Send([]byte("x"))
	require.Error(t, err)
	assert.True(t, strings.Contains(a.LastError(), "broken pipe"))
	assert.Equal(t, uint64(2), a.Stats().SendErrors)
}

func TestAdapter_Close(t *testing.T) {
	a, mock, rt := newTestAdapter(t)
	mock.DeliverString(testutil.CreateContact1)
	a.Tick()
	mock.DeliverString(testutil.ControlContact1)

	a.Close()
	assert.Equal(t, 0, rt.Envelopes.InUse())
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, "mock", a.Name())
}
