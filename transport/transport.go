package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
)

// Transport moves raw JSON payloads between the bus and one remote endpoint.
//
// Start launches the transport's goroutines and returns immediately; all
// blocking I/O happens in those goroutines. ProcessData and StatusChanges are
// called from the tick goroutine and never block. Send may be called from the
// tick goroutine and must not block on the network.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error

	// ProcessData appends payloads received since the last call to dst.
	ProcessData(dst [][]byte) [][]byte
	// Send queues one payload for every connected peer.
	Send(payload []byte) error
	// StatusChanges appends status transitions since the last call to dst.
	StatusChanges(dst []Status) []Status
	// Status returns the current status.
	Status() Status
}

// PeerJoiner is implemented by transports whose peers come and go under one
// Connected status, such as servers accepting several clients. The hub
// handshakes once per tick in which PeersJoined is non-zero instead of on
// the Connected transition.
type PeerJoiner interface {
	PeersJoined() int
}

// Config describes one transport instance. Fields that do not apply to a
// transport type are ignored by it.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Mode is "client" or "server" for stream transports.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Address is host:port for tcp, a ws:// URL or listen address for
	// websocket, and the server URL for nats.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	// Path is the websocket server endpoint.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	InboundSubject  string `json:"inbound_subject,omitempty" yaml:"inbound_subject,omitempty"`
	OutboundSubject string `json:"outbound_subject,omitempty" yaml:"outbound_subject,omitempty"`

	ReconnectInterval time.Duration `json:"reconnect_interval,omitempty" yaml:"reconnect_interval,omitempty"`
	SendQueue         int           `json:"send_queue,omitempty" yaml:"send_queue,omitempty"`
	ReceiveQueue      int           `json:"receive_queue,omitempty" yaml:"receive_queue,omitempty"`
	MaxFrameSize      int           `json:"max_frame_size,omitempty" yaml:"max_frame_size,omitempty"`
}

// Transport modes.
const (
	ModeClient = "client"
	ModeServer = "server"
)

// Defaults applied by WithDefaults.
const (
	DefaultReconnectInterval = 2 * time.Second
	DefaultSendQueue         = 256
)

// WithDefaults returns c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeClient
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Name == "" {
		c.Name = c.Type
	}
	return c
}

// Validate checks the fields every transport needs.
func (c Config) Validate() error {
	if c.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "transport type")
	}
	if c.Mode != "" && c.Mode != ModeClient && c.Mode != ModeServer {
		return errors.WrapInvalid(fmt.Errorf("%w: mode %q", errors.ErrInvalidConfig, c.Mode),
			"Config", "Validate", "transport mode")
	}
	if c.SendQueue < 0 || c.ReceiveQueue < 0 || c.MaxFrameSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative size", errors.ErrInvalidConfig),
			"Config", "Validate", "queue sizes")
	}
	return nil
}

// Dependencies are the shared services handed to every factory.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Factory builds a transport from its configuration. Factories must not do
// I/O; connections are opened in Start.
type Factory func(cfg Config, deps Dependencies) (Transport, error)

// Registry maps transport type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for typ. Registering a type twice is an error.
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return errors.WrapInvalid(fmt.Errorf("transport type %q is already registered", typ),
			"Registry", "Register", "duplicate type check")
	}
	r.factories[typ] = factory
	return nil
}

// Create validates cfg, applies defaults and calls the factory for cfg.Type.
func (r *Registry) Create(cfg Config, deps Dependencies) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: transport type %q", errors.ErrInvalidConfig, cfg.Type),
			"Registry", "Create", "factory lookup")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	t, err := factory(cfg.WithDefaults(), deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "build "+cfg.Type+" transport")
	}
	return t, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Join waits for wg with a timeout. It returns a transient error if the
// goroutines are still running when the timeout expires.
func Join(wg *sync.WaitGroup, timeout time.Duration, owner string) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout),
			owner, "Stop", "wait for goroutines")
	}
}
