package transport

import (
	"sync"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/buffer"
)

// LinkConfig sizes the queues of a Link.
type LinkConfig struct {
	// Mode selects Swap (push) or Dequeue (pull) delivery of payloads.
	Mode buffer.Mode
	// Capacity bounds pending inbound payloads; zero means unbounded. On
	// overflow the oldest payload is dropped.
	Capacity int

	// Name labels the transport status gauge.
	Name string

	Registry     *metric.MetricsRegistry
	MetricPrefix string
}

// Link is the hand-off between a transport's I/O goroutines and the tick
// goroutine. I/O goroutines call Deliver and SetStatus; the tick drains
// payloads with ProcessData and status transitions with StatusChanges.
type Link struct {
	data   *buffer.Handoff[[]byte]
	status *buffer.Handoff[Status]

	mu      sync.Mutex
	current Status
	joined  int

	name    string
	metrics *metric.Metrics
}

// NewLink creates a link.
func NewLink(cfg LinkConfig) (*Link, error) {
	var opts []buffer.Option[[]byte]
	if cfg.Capacity > 0 {
		opts = append(opts,
			buffer.WithCapacity[[]byte](cfg.Capacity),
			buffer.WithOverflowPolicy[[]byte](buffer.DropOldest))
	}
	if cfg.Registry != nil && cfg.MetricPrefix != "" {
		opts = append(opts, buffer.WithMetrics[[]byte](cfg.Registry, cfg.MetricPrefix))
	}

	data, err := buffer.NewHandoff(cfg.Mode, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Link", "NewLink", "create data hand-off")
	}
	status, err := buffer.NewHandoff[Status](buffer.ModePush)
	if err != nil {
		return nil, errors.Wrap(err, "Link", "NewLink", "create status hand-off")
	}
	l := &Link{data: data, status: status, name: cfg.Name}
	if cfg.Registry != nil {
		l.metrics = cfg.Registry.CoreMetrics()
	}
	return l, nil
}

// Deliver queues one received payload. The link takes ownership of payload.
func (l *Link) Deliver(payload []byte) error {
	return l.data.Push(payload)
}

// SetStatus records a status transition. Repeating the current status is a
// no-op, so observers only see changes.
func (l *Link) SetStatus(s Status) {
	l.mu.Lock()
	if l.current == s {
		l.mu.Unlock()
		return
	}
	l.current = s
	// Push fails only once the link is closed.
	_ = l.status.Push(s)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordTransportStatus(l.name, int(s))
	}
}

// PeerConnected records that one more peer is attached and sets the status
// to Connected. Unlike SetStatus it counts every call, so a server accepting
// a second peer while already connected still reports the join.
func (l *Link) PeerConnected() {
	l.mu.Lock()
	l.joined++
	changed := l.current != StatusConnected
	if changed {
		l.current = StatusConnected
		_ = l.status.Push(StatusConnected)
	}
	l.mu.Unlock()

	if changed && l.metrics != nil {
		l.metrics.RecordTransportStatus(l.name, int(StatusConnected))
	}
}

// PeersJoined returns how many peers connected since the last call.
func (l *Link) PeersJoined() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.joined
	l.joined = 0
	return n
}

// Status returns the most recent status.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ProcessData appends every pending payload to dst in arrival order.
func (l *Link) ProcessData(dst [][]byte) [][]byte {
	if l.data.Mode() == buffer.ModePull {
		for {
			payload, ok := l.Next()
			if !ok {
				return dst
			}
			dst = append(dst, payload)
		}
	}
	dst, _ = l.data.Swap(dst)
	return dst
}

// Next takes the oldest pending payload of a pull-mode link. It reports false
// when nothing is pending or the link is in push mode.
func (l *Link) Next() ([]byte, bool) {
	payload, ok, err := l.data.Dequeue()
	if err != nil {
		return nil, false
	}
	return payload, ok
}

// StatusChanges appends every status transition since the last call to dst.
func (l *Link) StatusChanges(dst []Status) []Status {
	dst, _ = l.status.Swap(dst)
	return dst
}

// Ready is signalled whenever a payload is delivered.
func (l *Link) Ready() <-chan struct{} {
	return l.data.Ready()
}

// Pending returns the number of payloads not yet taken.
func (l *Link) Pending() int {
	return l.data.Len()
}

// Stats returns the inbound queue statistics.
func (l *Link) Stats() *buffer.Statistics {
	return l.data.Stats()
}

// Close stops accepting payloads and status changes.
func (l *Link) Close() {
	l.data.Close()
	l.status.Close()
}
