//go:build integration

package nats

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/testutil"
	"github.com/c360/controlbus/transport"
)

func TestIntegration_SubjectPair(t *testing.T) {
	srv := testutil.StartNATS(t)

	a, err := New(transport.Config{
		Name:            "a",
		Type:            Type,
		Address:         srv.URL,
		InboundSubject:  "bus.a",
		OutboundSubject: "bus.b",
	}, transport.Dependencies{})
	require.NoError(t, err)
	b, err := New(transport.Config{
		Name:            "b",
		Type:            Type,
		Address:         srv.URL,
		InboundSubject:  "bus.b",
		OutboundSubject: "bus.a",
	}, transport.Dependencies{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(5 * time.Second) }()
	require.NoError(t, b.Start(ctx))
	defer func() { _ = b.Stop(5 * time.Second) }()

	require.Eventually(t, func() bool {
		return a.Status() == transport.StatusConnected && b.Status() == transport.StatusConnected
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Send([]byte(`{"type":"create","component":"c","channel":"ch","instance":"1"}`)))
	require.NoError(t, b.Send([]byte(`{"type":"control","component":"c","channel":"ch"}`)))

	var atB, atA [][]byte
	require.Eventually(t, func() bool {
		atB = b.ProcessData(atB)
		atA = a.ProcessData(atA)
		return len(atB) == 1 && len(atA) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, string(atB[0]), `"create"`)
	assert.Contains(t, string(atA[0]), `"control"`)
	assert.Equal(t, uint64(1), a.Published())

	changes := a.StatusChanges(nil)
	assert.Equal(t, transport.StatusConnected, changes[len(changes)-1])
}

func TestIntegration_SubscribeFailureIsRetried(t *testing.T) {
	srv := testutil.StartNATS(t)

	tr, err := New(transport.Config{
		Name:              "retry",
		Type:              Type,
		Address:           srv.URL,
		ReconnectInterval: 20 * time.Millisecond,
	}, transport.Dependencies{})
	require.NoError(t, err)

	var attempts atomic.Int32
	tr.subscribe = func(conn *nats.Conn, subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
		if attempts.Add(1) < 3 {
			return nil, nats.ErrBadSubscription
		}
		return conn.Subscribe(subject, cb)
	}

	require.NoError(t, tr.Start(context.Background()))
	defer func() { _ = tr.Stop(5 * time.Second) }()

	require.Eventually(t, func() bool { return tr.Status() == transport.StatusConnected }, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())

	changes := tr.StatusChanges(nil)
	assert.Contains(t, changes, transport.StatusError)

	pub, err := nats.Connect(srv.URL)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish(DefaultInboundSubject, []byte(`{"type":"event"}`)))
	require.NoError(t, pub.Flush())

	var got [][]byte
	require.Eventually(t, func() bool {
		got = tr.ProcessData(got)
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"type":"event"}`, string(got[0]))
}
