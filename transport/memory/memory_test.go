package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/transport"
)

func TestPipe_Status(t *testing.T) {
	a, b, err := Pipe("a", "b")
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, transport.StatusConnecting, a.Status())

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, transport.StatusConnected, a.Status())
	assert.Equal(t, transport.StatusConnected, b.Status())

	require.NoError(t, b.Stop(time.Second))
	assert.Equal(t, transport.StatusConnecting, a.Status())
	assert.Equal(t, transport.StatusDisconnected, b.Status())

	assert.Equal(t,
		[]transport.Status{transport.StatusConnecting, transport.StatusConnected, transport.StatusConnecting},
		a.StatusChanges(nil))
}

func TestPipe_Send(t *testing.T) {
	a, b, err := Pipe("a", "b")
	require.NoError(t, err)

	err = a.Send([]byte("early"))
	assert.True(t, errors.Is(err, errors.ErrNoConnection))

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))
	require.NoError(t, b.Send([]byte("back")))

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal")
	}
	first, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, "one", string(first))

	rest := b.ProcessData(nil)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0]))

	got := a.ProcessData(nil)
	require.Len(t, got, 1)
	assert.Equal(t, "back", string(got[0]))
	assert.Equal(t, uint64(2), a.Sent())
}

func TestEndpoint_DoubleStart(t *testing.T) {
	a, err := NewEndpoint("a", 0)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(time.Second))
	require.NoError(t, a.Stop(time.Second))
}

func TestRegister(t *testing.T) {
	reg := transport.NewRegistry()
	require.NoError(t, Register(reg))

	x, err := reg.Create(transport.Config{Type: Type, Name: "x"}, transport.Dependencies{})
	require.NoError(t, err)
	y, err := reg.Create(transport.Config{Type: Type, Name: "y"}, transport.Dependencies{})
	require.NoError(t, err)

	Connect(x.(*Endpoint), y.(*Endpoint))
	require.NoError(t, x.Start(context.Background()))
	require.NoError(t, y.Start(context.Background()))
	assert.Equal(t, transport.StatusConnected, x.Status())
}
