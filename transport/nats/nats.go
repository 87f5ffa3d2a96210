// Package nats provides a transport that exchanges one JSON payload per NATS
// message over a pair of subjects: it subscribes to the inbound subject and
// publishes to the outbound subject.
package nats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/retry"
	"github.com/c360/controlbus/transport"
)

// Type is the registry name of this transport.
const Type = "nats"

// Default subjects used when none are configured.
const (
	DefaultInboundSubject  = "controlbus.inbound"
	DefaultOutboundSubject = "controlbus.outbound"
)

const (
	connectTimeout = 5 * time.Second
	drainTimeout   = 2 * time.Second
)

// Transport is a NATS subject-pair transport. Reconnection after the first
// successful connect is handled by the NATS client; the initial connect is
// retried at the configured interval until Stop.
type Transport struct {
	cfg     transport.Config
	logger  *slog.Logger
	link    *transport.Link
	metrics *metric.Metrics

	connMu sync.RWMutex
	conn   *nats.Conn

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool

	published atomic.Uint64

	// subscribe is (*nats.Conn).Subscribe outside of tests.
	subscribe func(conn *nats.Conn, subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// New creates a NATS transport. Address defaults to nats.DefaultURL.
func New(cfg transport.Config, deps transport.Dependencies) (*Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		cfg.Address = nats.DefaultURL
	}
	if cfg.InboundSubject == "" {
		cfg.InboundSubject = DefaultInboundSubject
	}
	if cfg.OutboundSubject == "" {
		cfg.OutboundSubject = DefaultOutboundSubject
	}
	if cfg.InboundSubject == cfg.OutboundSubject {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "nats", "New",
			"inbound and outbound subjects must differ")
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
		return nil, errors.Wrap(err, "nats", "New", "create link")
	}

	t := &Transport{
		cfg:       cfg,
		logger:    logger.With("component", "nats-transport", "name", cfg.Name),
		link:      link,
		subscribe: (*nats.Conn).Subscribe,
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

// Register adds the nats factory to registry.
func Register(registry *transport.Registry) error {
	return registry.Register(Type, Factory)
}

// Name returns the configured transport name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// Subjects returns the inbound and outbound subjects.
func (t *Transport) Subjects() (inbound, outbound string) {
	return t.cfg.InboundSubject, t.cfg.OutboundSubject
}

// Start launches the connect goroutine.
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "nats", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(runCtx)

	t.started.Store(true)
	return nil
}

// Stop drains the subscription, closes the connection and waits up to
// timeout for the connect goroutine.
func (t *Transport) Stop(timeout time.Duration) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.started.Load() {
		return nil
	}

	t.cancel()
	err := transport.Join(&t.wg, timeout, "nats")
	t.link.SetStatus(transport.StatusDisconnected)
	t.started.Store(false)
	return err
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

// Send publishes payload on the outbound subject. The NATS client buffers
// the write, so Send does not wait for the network.
func (t *Transport) Send(payload []byte) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "nats", "Send", "publish payload")
	}
	if err := conn.Publish(t.cfg.OutboundSubject, payload); err != nil {
		return errors.WrapTransient(err, "nats", "Send", "publish payload")
	}
	t.published.Add(1)
	return nil
}

// Published returns the number of payloads handed to the NATS client.
func (t *Transport) Published() uint64 {
	return t.published.Load()
}

func (t *Transport) run(ctx context.Context) {
	defer t.wg.Done()

	t.link.SetStatus(transport.StatusConnecting)

	sess, err := retry.DoWithResult(ctx, retry.Fixed(t.cfg.ReconnectInterval), func() (session, error) {
		sess, err := t.connect()
		if err != nil {
			t.link.SetStatus(transport.StatusError)
			t.logger.Debug("Connect failed, retrying", "url", t.cfg.Address, "error", err)
		}
		return sess, err
	})
	if err != nil {
		return
	}
	conn := sess.conn

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.link.SetStatus(transport.StatusConnected)
	t.logger.Info("Connected to NATS", "url", conn.ConnectedUrl(),
		"inbound", t.cfg.InboundSubject, "outbound", t.cfg.OutboundSubject)

	<-ctx.Done()

	t.connMu.Lock()
	t.conn = nil
	t.connMu.Unlock()

	_ = sess.sub.Unsubscribe()
	if err := conn.FlushTimeout(drainTimeout); err != nil {
		t.logger.Debug("Flush on shutdown failed", "error", err)
	}
	conn.Close()
}

// session is a connection with its inbound subscription.
type session struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// connect dials the server and subscribes to the inbound subject as one
// attempt. A failed subscription closes the connection.
func (t *Transport) connect() (session, error) {
	conn, err := nats.Connect(t.cfg.Address, t.options()...)
	if err != nil {
		return session{}, err
	}

	sub, err := t.subscribe(conn, t.cfg.InboundSubject, t.deliver)
	if err != nil {
		conn.Close()
		return session{}, errors.WrapTransient(err, "nats", "connect", "subscribe to "+t.cfg.InboundSubject)
	}
	return session{conn: conn, sub: sub}, nil
}

func (t *Transport) deliver(msg *nats.Msg) {
	if err := t.link.Deliver(msg.Data); err != nil {
		t.logger.Debug("Link closed, dropping payload")
	}
}

func (t *Transport) options() []nats.Option {
	return []nats.Option{
		nats.Name("controlbus-" + t.cfg.Name),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(t.cfg.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.link.SetStatus(transport.StatusDisconnected)
			if err != nil {
				t.logger.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.link.SetStatus(transport.StatusConnected)
			if t.metrics != nil {
				t.metrics.RecordReconnect(t.cfg.Name)
			}
			t.logger.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			t.logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
}
