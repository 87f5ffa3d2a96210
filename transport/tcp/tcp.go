// Package tcp provides a stream transport that frames JSON payloads with
// transport.Delimiter over a TCP connection.
package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/retry"
	"github.com/c360/controlbus/transport"
)

// Type is the registry name of this transport.
const Type = "tcp"

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	readBufSize  = 32 * 1024
)

// Transport connects to (client mode) or accepts (server mode) TCP peers.
// In server mode Send broadcasts to every accepted peer.
type Transport struct {
	cfg     transport.Config
	logger  *slog.Logger
	link    *transport.Link
	peers   *transport.PeerSet
	metrics *metric.Metrics

	lifecycleMu sync.Mutex
	listener    net.Listener
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool

	framingErrors atomic.Uint64
}

// New creates a TCP transport. No connection is made until Start.
func New(cfg transport.Config, deps transport.Dependencies) (*Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "tcp", "New", "address")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	link, err := transport.NewLink(transport.LinkConfig{
		Capacity:     cfg.ReceiveQueue,
		Name:         cfg.Name,
		Registry:     deps.MetricsRegistry,
		MetricPrefix: cfg.Name,
	})
	if err != nil {
		return nil, errors.Wrap(err, "tcp", "New", "create link")
	}

	t := &Transport{
		cfg:    cfg,
		logger: logger.With("component", "tcp-transport", "name", cfg.Name, "mode", cfg.Mode),
		link:   link,
		peers:  transport.NewPeerSet(),
	}
	if deps.MetricsRegistry != nil {
		t.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return t, nil
}

// Factory adapts New to transport.Factory.
func Factory(cfg transport.Config, deps transport.Dependencies) (transport.Transport, error) {
	return New(cfg, deps)
}

// Register adds the tcp factory to registry.
func Register(registry *transport.Registry) error {
	return registry.Register(Type, Factory)
}

// Name returns the configured transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Start launches the connect loop (client) or binds the listener and starts
// accepting (server). Binding errors are returned; dial errors are retried.
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "tcp", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)

	if t.cfg.Mode == transport.ModeServer {
		var lc net.ListenConfig
		ln, err := lc.Listen(runCtx, "tcp", t.cfg.Address)
		if err != nil {
			cancel()
			t.link.SetStatus(transport.StatusError)
			return errors.WrapTransient(err, "tcp", "Start", "listen on "+t.cfg.Address)
		}
		t.listener = ln
		t.link.SetStatus(transport.StatusDisconnected)
		t.wg.Add(1)
		go t.acceptLoop(runCtx, ln)
	} else {
		t.wg.Add(1)
		go t.dialLoop(runCtx)
	}

	t.cancel = cancel
	t.started.Store(true)
	t.logger.Info("Transport started", "address", t.cfg.Address)
	return nil
}

// Stop gives peers up to half of timeout to write what is already queued,
// then cancels the I/O goroutines, closes every connection and waits for the
// goroutines to exit.
func (t *Transport) Stop(timeout time.Duration) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.started.Load() {
		return nil
	}

	if !t.peers.Drain(timeout / 2) {
		t.logger.Warn("Peers did not drain before stop", "peers", t.peers.Len())
	}
	t.cancel()
	if t.listener != nil {
		_ = t.listener.Close()
		t.listener = nil
	}
	t.peers.CloseAll()

	err := transport.Join(&t.wg, timeout, "tcp")
	t.link.SetStatus(transport.StatusDisconnected)
	t.started.Store(false)
	return err
}

// Addr returns the bound listener address in server mode, or nil.
func (t *Transport) Addr() net.Addr {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// ProcessData appends payloads received since the last call.
func (t *Transport) ProcessData(dst [][]byte) [][]byte {
	return t.link.ProcessData(dst)
}

// StatusChanges appends status transitions since the last call.
func (t *Transport) StatusChanges(dst []transport.Status) []transport.Status {
	return t.link.StatusChanges(dst)
}

// Status returns the current status.
func (t *Transport) Status() transport.Status {
	return t.link.Status()
}

// PeersJoined returns how many peers connected since the last call.
func (t *Transport) PeersJoined() int {
	return t.link.PeersJoined()
}

// Send queues payload for every connected peer.
func (t *Transport) Send(payload []byte) error {
	if err := t.peers.Broadcast(payload); err != nil {
		return errors.Wrap(err, "tcp", "Send", "queue payload")
	}
	return nil
}

// Peers returns the number of connected peers.
func (t *Transport) Peers() int {
	return t.peers.Len()
}

// FramingErrors returns how many oversized frames were discarded.
func (t *Transport) FramingErrors() uint64 {
	return t.framingErrors.Load()
}

func (t *Transport) dialLoop(ctx context.Context) {
	defer t.wg.Done()

	dialer := net.Dialer{Timeout: dialTimeout}
	policy := retry.Fixed(t.cfg.ReconnectInterval)

	for {
		t.link.SetStatus(transport.StatusConnecting)

		var conn net.Conn
		err := retry.DoNotify(ctx, policy, func() error {
			c, err := dialer.DialContext(ctx, "tcp", t.cfg.Address)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}, func(attempt int, err error, wait time.Duration) {
			t.link.SetStatus(transport.StatusError)
			t.recordReconnect()
			t.logger.Debug("Dial failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		})
		if err != nil {
			return
		}

		t.serve(ctx, conn)
		t.link.SetStatus(transport.StatusDisconnected)

		if !retry.Sleep(ctx, t.cfg.ReconnectInterval) {
			return
		}
		t.recordReconnect()
	}
}

func (t *Transport) acceptLoop(ctx context.Context, ln net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("Accept failed", "error", err)
			if !retry.Sleep(ctx, t.cfg.ReconnectInterval) {
				return
			}
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serve(ctx, conn)
			if t.peers.Len() == 0 {
				t.link.SetStatus(transport.StatusDisconnected)
			}
		}()
	}
}

// serve runs one connection until its reader fails or ctx ends.
func (t *Transport) serve(ctx context.Context, conn net.Conn) {
	var frame []byte
	peer := transport.NewPeer(uuid.NewString(), t.cfg.SendQueue, func(payload []byte) error {
		frame = transport.AppendFrame(frame[:0], payload)
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		_, err := conn.Write(frame)
		return err
	}, conn.Close)

	t.peers.Add(peer)
	t.link.PeerConnected()
	t.logger.Info("Peer connected", "peer", peer.ID, "remote", conn.RemoteAddr().String())

	stop := context.AfterFunc(ctx, peer.Close)
	defer stop()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		peer.WriteLoop()
	}()

	t.readLoop(peer, conn)

	peer.Close()
	t.peers.Remove(peer)
	t.logger.Info("Peer disconnected", "peer", peer.ID)
}

func (t *Transport) readLoop(peer *transport.Peer, conn net.Conn) {
	framer := transport.NewFramer(t.cfg.MaxFrameSize)
	buf := make([]byte, readBufSize)
	deliver := func(payload []byte) {
		if err := t.link.Deliver(payload); err != nil {
			t.logger.Debug("Link closed, dropping payload", "peer", peer.ID)
		}
	}

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := framer.Feed(buf[:n], deliver); ferr != nil {
				t.framingErrors.Add(1)
				t.logger.Warn("Discarding oversized frame", "peer", peer.ID, "error", ferr)
			}
		}
		if err != nil {
			select {
			case <-peer.Done():
			default:
				t.logger.Debug("Read failed", "peer", peer.ID, "error", err)
			}
			return
		}
	}
}

func (t *Transport) recordReconnect() {
	if t.metrics != nil {
		t.metrics.RecordReconnect(t.cfg.Name)
	}
}

// String describes the transport for logs.
func (t *Transport) String() string {
	return fmt.Sprintf("tcp(%s %s %s)", t.cfg.Name, t.cfg.Mode, t.cfg.Address)
}
