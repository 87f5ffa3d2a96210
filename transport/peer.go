package transport

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/controlbus/errors"
)

// WriteFunc writes one payload to a connection.
type WriteFunc func(payload []byte) error

// Peer is one connected remote endpoint with its own bounded send queue and
// writer goroutine, so a slow peer never blocks the tick or other peers.
type Peer struct {
	ID string

	out     chan []byte
	pending atomic.Int64
	done    chan struct{}
	once    sync.Once
	write   WriteFunc
	closer  func() error
}

// NewPeer creates a peer whose writer calls write for every queued payload
// and closer once the peer is closed.
func NewPeer(id string, queue int, write WriteFunc, closer func() error) *Peer {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &Peer{
		ID:     id,
		out:    make(chan []byte, queue),
		done:   make(chan struct{}),
		write:  write,
		closer: closer,
	}
}

// Enqueue queues payload without blocking. Payloads are shared between
// peers and must not be modified after Enqueue.
func (p *Peer) Enqueue(payload []byte) error {
	select {
	case <-p.done:
		return errors.WrapTransient(errors.ErrConnectionLost, "Peer", "Enqueue", "peer "+p.ID+" closed")
	default:
	}

	p.pending.Add(1)
	select {
	case p.out <- payload:
		return nil
	default:
		p.pending.Add(-1)
		return errors.WrapTransient(errors.ErrQueueFull, "Peer", "Enqueue", "queue for peer "+p.ID)
	}
}

// WriteLoop writes queued payloads until the peer is closed or a write
// fails, in which case the peer closes itself.
func (p *Peer) WriteLoop() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.out:
			err := p.write(payload)
			p.pending.Add(-1)
			if err != nil {
				p.Close()
				return
			}
		}
	}
}

// Close closes the peer once. Closing the connection unblocks its reader.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		if p.closer != nil {
			_ = p.closer()
		}
	})
}

// Pending returns the number of payloads queued or being written.
func (p *Peer) Pending() int {
	return int(p.pending.Load())
}

// Done is closed when the peer closes.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// PeerSet tracks the connected peers of a transport.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerSet creates an empty set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]*Peer)}
}

// Add inserts p and returns the new peer count.
func (s *PeerSet) Add(p *Peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID] = p
	return len(s.peers)
}

// Remove deletes p and returns the remaining peer count.
func (s *PeerSet) Remove(p *Peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.peers[p.ID]; ok && cur == p {
		delete(s.peers, p.ID)
	}
	return len(s.peers)
}

// Len returns the number of connected peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// IDs returns the peer ids, sorted.
func (s *PeerSet) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast queues payload for every peer. With no peers it returns
// ErrNoConnection; per-peer failures are joined.
func (s *PeerSet) Broadcast(payload []byte) error {
	s.mu.RLock()
	if len(s.peers) == 0 {
		s.mu.RUnlock()
		return errors.WrapTransient(errors.ErrNoConnection, "PeerSet", "Broadcast", "send payload")
	}
	var errs []error
	for _, p := range s.peers {
		if err := p.Enqueue(payload); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.RUnlock()
	return errors.Join(errs...)
}

const drainPoll = 5 * time.Millisecond

// Drain waits up to timeout for every open peer to finish writing its queue.
// It reports whether all queues emptied in time.
func (s *PeerSet) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.drained() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(drainPoll)
	}
}

func (s *PeerSet) drained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		select {
		case <-p.done:
			continue
		default:
		}
		if p.Pending() > 0 {
			return false
		}
	}
	return true
}

// CloseAll closes and removes every peer.
func (s *PeerSet) CloseAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*Peer)
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
