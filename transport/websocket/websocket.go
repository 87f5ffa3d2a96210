// Package websocket provides a transport carrying one JSON payload per
// websocket text frame, as a dialing client or as a server accepting any
// number of peers.
package websocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/retry"
	"github.com/c360/controlbus/transport"
)

// Type is the registry name of this transport.
const Type = "websocket"

// DefaultPath is the server endpoint when none is configured.
const DefaultPath = "/ws"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Transport is a websocket client or server.
type Transport struct {
	cfg     transport.Config
	logger  *slog.Logger
	link    *transport.Link
	peers   *transport.PeerSet
	metrics *metric.Metrics

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	lifecycleMu sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool

	// runCtx is set while started; the HTTP handler ties peers to it.
	// admitMu orders clearing it against admitting a new peer.
	runCtx  atomic.Pointer[context.Context]
	admitMu sync.Mutex
}

// New creates a websocket transport. In client mode Address is the ws:// or
// wss:// URL to dial; in server mode it is the listen address.
func New(cfg transport.Config, deps transport.Dependencies) (*Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "websocket", "New", "address")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
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
		return nil, errors.Wrap(err, "websocket", "New", "create link")
	}

	t := &Transport{
		cfg:    cfg,
		logger: logger.With("component", "websocket-transport", "name", cfg.Name, "mode", cfg.Mode),
		link:   link,
		peers:  transport.NewPeerSet(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
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

// Register adds the websocket factory to registry.
func Register(registry *transport.Registry) error {
	return registry.Register(Type, Factory)
}

// Name returns the configured transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Start dials (client) or binds the HTTP listener (server).
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "websocket", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.runCtx.Store(&runCtx)

	if t.cfg.Mode == transport.ModeServer {
		if err := t.startServer(runCtx); err != nil {
			cancel()
			t.runCtx.Store(nil)
			t.link.SetStatus(transport.StatusError)
			return err
		}
	} else {
		t.wg.Add(1)
		go t.clientConnectLoop(runCtx)
	}

	t.cancel = cancel
	t.started.Store(true)
	t.logger.Info("Transport started", "address", t.cfg.Address)
	return nil
}

// Stop gives peers up to half of timeout to write what is already queued,
// then shuts the server down, closes every connection and waits for the
// goroutines.
func (t *Transport) Stop(timeout time.Duration) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.started.Load() {
		return nil
	}

	if !t.peers.Drain(timeout / 2) {
		t.logger.Warn("Peers did not drain before stop", "peers", t.peers.Len())
	}
	t.admitMu.Lock()
	t.runCtx.Store(nil)
	t.admitMu.Unlock()
	t.cancel()

	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = t.httpServer.Shutdown(ctx)
		cancel()
		t.httpServer = nil
		t.listener = nil
	}
	t.peers.CloseAll()

	err := transport.Join(&t.wg, timeout, "websocket")
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

// Send queues payload as a text frame for every connected peer.
func (t *Transport) Send(payload []byte) error {
	if err := t.peers.Broadcast(payload); err != nil {
		return errors.Wrap(err, "websocket", "Send", "queue payload")
	}
	return nil
}

// Peers returns the ids of the connected peers.
func (t *Transport) Peers() []string {
	return t.peers.IDs()
}

// Handler returns the upgrade handler so a server-mode transport can be
// mounted on an existing mux. Requests are rejected until Start.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(t.handleWebSocket)
}

func (t *Transport) startServer(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Address)
	if err != nil {
		return errors.WrapTransient(err, "websocket", "startServer", "listen on "+t.cfg.Address)
	}

	mux := http.NewServeMux()
	mux.Handle(t.cfg.Path, t.Handler())

	t.listener = ln
	t.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: handshakeTimeout,
	}
	t.link.SetStatus(transport.StatusDisconnected)

	srv := t.httpServer
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Websocket server failed", "error", err)
			t.link.SetStatus(transport.StatusError)
		}
	}()
	return nil
}

func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctxPtr := t.runCtx.Load()
	if ctxPtr == nil {
		http.Error(w, "transport not started", http.StatusServiceUnavailable)
		return
	}
	ctx := *ctxPtr

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Stop may have begun while upgrading; the connection is hijacked, so the
	// HTTP server no longer tracks it.
	t.admitMu.Lock()
	if t.runCtx.Load() != ctxPtr {
		t.admitMu.Unlock()
		_ = conn.Close()
		return
	}
	t.wg.Add(1)
	t.admitMu.Unlock()

	go func() {
		defer t.wg.Done()
		t.serve(ctx, conn)
		if t.peers.Len() == 0 {
			t.link.SetStatus(transport.StatusDisconnected)
		}
	}()
}

func (t *Transport) clientConnectLoop(ctx context.Context) {
	defer t.wg.Done()

	policy := retry.Fixed(t.cfg.ReconnectInterval)
	for {
		t.link.SetStatus(transport.StatusConnecting)

		var conn *websocket.Conn
		err := retry.DoNotify(ctx, policy, func() error {
			c, _, err := t.dialer.DialContext(ctx, t.cfg.Address, nil)
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

// serve runs one connection until its reader fails or ctx ends.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) {
	peer := transport.NewPeer(uuid.NewString(), t.cfg.SendQueue, func(payload []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}, conn.Close)

	if t.cfg.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(t.cfg.MaxFrameSize))
	}

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

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-peer.Done():
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Debug("Read failed", "peer", peer.ID, "error", err)
				}
			}
			break
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := t.link.Deliver(data); err != nil {
			t.logger.Debug("Link closed, dropping payload", "peer", peer.ID)
		}
	}

	peer.Close()
	t.peers.Remove(peer)
	t.logger.Info("Peer disconnected", "peer", peer.ID)
}

func (t *Transport) recordReconnect() {
	if t.metrics != nil {
		t.metrics.RecordReconnect(t.cfg.Name)
	}
}
