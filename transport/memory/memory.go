// Package memory provides an in-process transport. Two endpoints created by
// Pipe deliver each other's payloads without a network, which makes it the
// transport of choice for embedding two buses in one process and for tests.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/pkg/buffer"
	"github.com/c360/controlbus/transport"
)

// Type is the registry name of this transport.
const Type = "memory"

// Endpoint is one side of an in-process pipe. Its inbound link is in pull
// mode: a consumer may wait on Ready and take payloads one at a time with
// Next, or take everything pending with ProcessData.
type Endpoint struct {
	name string
	link *transport.Link

	mu   sync.RWMutex
	peer *Endpoint

	started atomic.Bool
	sent    atomic.Uint64
}

// NewEndpoint creates an unconnected endpoint.
func NewEndpoint(name string, capacity int) (*Endpoint, error) {
	link, err := transport.NewLink(transport.LinkConfig{
		Mode:     buffer.ModePull,
		Capacity: capacity,
		Name:     name,
	})
	if err != nil {
		return nil, errors.Wrap(err, "memory", "NewEndpoint", "create link")
	}
	return &Endpoint{name: name, link: link}, nil
}

// Pipe creates two connected endpoints.
func Pipe(a, b string) (*Endpoint, *Endpoint, error) {
	ea, err := NewEndpoint(a, 0)
	if err != nil {
		return nil, nil, err
	}
	eb, err := NewEndpoint(b, 0)
	if err != nil {
		return nil, nil, err
	}
	Connect(ea, eb)
	return ea, eb, nil
}

// Connect joins a and b. Either side reports Connected once both are started.
func Connect(a, b *Endpoint) {
	a.setPeer(b)
	b.setPeer(a)
}

// Factory builds an unconnected endpoint; join it with Connect before use.
func Factory(cfg transport.Config, _ transport.Dependencies) (transport.Transport, error) {
	return NewEndpoint(cfg.Name, cfg.ReceiveQueue)
}

// Register adds the memory factory to registry.
func Register(registry *transport.Registry) error {
	return registry.Register(Type, Factory)
}

func (e *Endpoint) setPeer(p *Endpoint) {
	e.mu.Lock()
	e.peer = p
	e.mu.Unlock()
	e.refresh()
}

func (e *Endpoint) getPeer() *Endpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.peer
}

// refresh recomputes the status of e and its peer.
func (e *Endpoint) refresh() {
	for _, ep := range []*Endpoint{e, e.getPeer()} {
		if ep == nil || !ep.started.Load() {
			continue
		}
		p := ep.getPeer()
		if p != nil && p.started.Load() {
			ep.link.SetStatus(transport.StatusConnected)
		} else {
			ep.link.SetStatus(transport.StatusConnecting)
		}
	}
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Start marks the endpoint started.
func (e *Endpoint) Start(context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "memory", "Start", "check started state")
	}
	e.refresh()
	return nil
}

// Stop marks the endpoint stopped; its peer becomes Connecting again.
func (e *Endpoint) Stop(time.Duration) error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	e.link.SetStatus(transport.StatusDisconnected)
	e.refresh()
	return nil
}

// Send delivers payload to the peer's inbound queue.
func (e *Endpoint) Send(payload []byte) error {
	p := e.getPeer()
	if !e.started.Load() || p == nil || !p.started.Load() {
		return errors.WrapTransient(errors.ErrNoConnection, "memory", "Send", "deliver payload")
	}
	if err := p.link.Deliver(payload); err != nil {
		return errors.WrapTransient(err, "memory", "Send", "deliver payload")
	}
	e.sent.Add(1)
	return nil
}

// Sent returns the number of payloads delivered to the peer.
func (e *Endpoint) Sent() uint64 {
	return e.sent.Load()
}

// ProcessData appends every pending payload to dst.
func (e *Endpoint) ProcessData(dst [][]byte) [][]byte {
	return e.link.ProcessData(dst)
}

// Next takes the oldest pending payload.
func (e *Endpoint) Next() ([]byte, bool) {
	return e.link.Next()
}

// Ready is signalled when a payload arrives.
func (e *Endpoint) Ready() <-chan struct{} {
	return e.link.Ready()
}

// StatusChanges appends status transitions since the last call.
func (e *Endpoint) StatusChanges(dst []transport.Status) []transport.Status {
	return e.link.StatusChanges(dst)
}

// Status returns the current status.
func (e *Endpoint) Status() transport.Status {
	return e.link.Status()
}
