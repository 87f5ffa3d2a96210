package dataio

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/transport"
)

// AdapterStats counts what an Adapter has processed.
type AdapterStats struct {
	Payloads     uint64 // raw payloads pulled from the transport
	Decoded      uint64 // channel envelopes decoded
	Declarations uint64 // component messages received
	DecodeErrors uint64
	Sent         uint64
	SendErrors   uint64
}

// Adapter is the per-transport pipeline between a Transport and the hub.
//
// Each Tick pulls raw payloads, decodes them into pooled envelopes, coalesces
// them in a message.Buffer and hands the drained batch upward. The batch
// stays valid until the next Tick, which returns it to the pool.
//
// An Adapter is driven from the tick goroutine only.
type Adapter struct {
	id        string
	transport transport.Transport
	rt        *channel.Runtime
	codec     *message.Codec
	buffer    *message.Buffer
	logger    *slog.Logger

	errLimiter *rate.Limiter

	payloads     [][]byte
	batch        []*message.Envelope
	declarations []message.ComponentDeclaration

	lastError string
	stats     AdapterStats
}

// NewAdapter wraps tr in a pipeline drawing envelopes from rt.
func NewAdapter(rt *channel.Runtime, tr transport.Transport) *Adapter {
	id := uuid.NewString()
	return &Adapter{
		id:         id,
		transport:  tr,
		rt:         rt,
		codec:      message.NewCodec(rt.Envelopes),
		buffer:     message.NewBuffer(rt.Envelopes),
		logger:     rt.Logger.With("component", "dataio-adapter", "adapter", tr.Name(), "id", id),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// ID returns the unique id assigned at construction.
func (a *Adapter) ID() string {
	return a.id
}

// Name returns the transport name.
func (a *Adapter) Name() string {
	return a.transport.Name()
}

// Transport returns the wrapped transport.
func (a *Adapter) Transport() transport.Transport {
	return a.transport
}

// Start starts the transport.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.transport.Start(ctx); err != nil {
		return errors.Wrap(err, "Adapter", "Start", "start transport "+a.Name())
	}
	return nil
}

// Stop stops the transport, waiting at most timeout for its goroutines.
func (a *Adapter) Stop(timeout time.Duration) error {
	if err := a.transport.Stop(timeout); err != nil {
		return errors.Wrap(err, "Adapter", "Stop", "stop transport "+a.Name())
	}
	return nil
}

// Status returns the transport status.
func (a *Adapter) Status() transport.Status {
	return a.transport.Status()
}

// StatusChanges appends the transport's status transitions to dst.
func (a *Adapter) StatusChanges(dst []transport.Status) []transport.Status {
	return a.transport.StatusChanges(dst)
}

// PeersJoined reports how many peers joined since the last call. tracked is
// false when the transport does not count peers, in which case a Connected
// transition stands for a new peer.
func (a *Adapter) PeersJoined() (joined int, tracked bool) {
	pj, ok := a.transport.(transport.PeerJoiner)
	if !ok {
		return 0, false
	}
	return pj.PeersJoined(), true
}

// Tick runs one pass of the pipeline and returns the coalesced batch.
// Envelopes of the previous batch are released first.
func (a *Adapter) Tick() []*message.Envelope {
	a.releaseBatch()
	clear(a.declarations)
	a.declarations = a.declarations[:0]

	a.payloads = a.transport.ProcessData(a.payloads[:0])
	for _, payload := range a.payloads {
		a.ingest(payload)
	}
	clear(a.payloads)

	a.batch = a.buffer.Drain(a.batch)
	return a.batch
}

func (a *Adapter) ingest(payload []byte) {
	a.stats.Payloads++

	decoded, err := a.codec.Decode(payload)
	if err != nil {
		a.stats.DecodeErrors++
		if a.rt.Metrics != nil {
			a.rt.Metrics.RecordDecodeError(a.Name())
		}
		if a.errLimiter.Allow() {
			a.logger.Warn("Dropping undecodable message", "size", len(payload), "error", err)
		}
		return
	}

	if decoded.IsComponent() {
		a.stats.Declarations++
		a.declarations = append(a.declarations, decoded.Declarations...)
		if a.rt.Metrics != nil {
			a.rt.Metrics.RecordMessageReceived(a.Name(), message.KindComponent.String())
		}
		return
	}

	env := decoded.Envelope
	a.stats.Decoded++
	if a.rt.Metrics != nil {
		a.rt.Metrics.RecordMessageReceived(a.Name(), env.Kind.String())
	}
	if err := a.buffer.Enqueue(env); err != nil {
		_ = a.rt.Envelopes.Put(env)
		a.logger.Error("Failed to buffer envelope", "key", env.Key.String(), "error", err)
	}
}

func (a *Adapter) releaseBatch() {
	if err := a.rt.Envelopes.PutAll(a.batch); err != nil {
		a.logger.Error("Failed to release batch", "error", err)
	}
	a.batch = a.batch[:0]
}

// Declarations returns the component declarations received during the last
// Tick. The slice is reused by the next Tick.
func (a *Adapter) Declarations() []message.ComponentDeclaration {
	return a.declarations
}

// Send hands payload to the transport. The transport may retain payload, so
// callers must not modify it afterwards.
func (a *Adapter) Send(payload []byte) error {
	if err := a.transport.Send(payload); err != nil {
		a.stats.SendErrors++
		if !errors.Is(err, errors.ErrNoConnection) {
			a.lastError = err.Error()
		}
		return errors.Wrap(err, "Adapter", "Send", "send via "+a.Name())
	}
	a.stats.Sent++
	return nil
}

// Declare sends one component message carrying decls.
func (a *Adapter) Declare(decls []message.ComponentDeclaration) error {
	payload, err := a.codec.EncodeDeclarations(decls)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Declare", "encode declarations")
	}
	if err := a.Send(payload); err != nil {
		return err
	}
	if a.rt.Metrics != nil {
		a.rt.Metrics.RecordMessageSent(a.Name(), message.KindComponent.String())
	}
	return nil
}

// LastError returns the most recent send failure other than a missing
// connection, or "".
func (a *Adapter) LastError() string {
	return a.lastError
}

// Pending returns the number of envelopes waiting in the adapter's buffer.
func (a *Adapter) Pending() int {
	return a.buffer.Len()
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() AdapterStats {
	return a.stats
}

// BufferStats returns the coalescing counters of the inbound buffer.
func (a *Adapter) BufferStats() message.BufferStats {
	return a.buffer.Stats()
}

// Close releases the outstanding batch and anything still buffered. It does
// not stop the transport.
func (a *Adapter) Close() {
	a.releaseBatch()
	a.buffer.Reset()
	clear(a.declarations)
	a.declarations = a.declarations[:0]
}
