package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/controlbus/transport"
)

// MockTransport is a scriptable transport.Transport. Tests feed inbound
// payloads with Deliver, drive status with SetStatus and inspect what the bus
// sent with Sent. Thread-safe for concurrent use from multiple goroutines.
type MockTransport struct {
	mu sync.Mutex

	name     string
	inbound  [][]byte
	statuses []transport.Status
	current  transport.Status
	sent     [][]byte

	// SendErr, when set, is returned by Send and the payload is not recorded.
	SendErr error
	// StartErr, when set, is returned by Start.
	StartErr error

	// Call counts for verification
	StartCalls int
	StopCalls  int
}

// NewMockTransport creates a mock transport named name.
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name}
}

// Name returns the transport name.
func (m *MockTransport) Name() string {
	return m.name
}

// Start records the call.
func (m *MockTransport) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return m.StartErr
}

// Stop records the call.
func (m *MockTransport) Stop(_ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

// Deliver queues payloads as if they had been received.
func (m *MockTransport) Deliver(payloads ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, payloads...)
}

// DeliverString queues string payloads.
func (m *MockTransport) DeliverString(payloads ...string) {
	for _, p := range payloads {
		m.Deliver([]byte(p))
	}
}

// SetStatus records a transition. Repeating the current status is a no-op.
func (m *MockTransport) SetStatus(s transport.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == m.current {
		return
	}
	m.current = s
	m.statuses = append(m.statuses, s)
}

// ProcessData hands over every queued payload.
func (m *MockTransport) ProcessData(dst [][]byte) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst = append(dst, m.inbound...)
	clear(m.inbound)
	m.inbound = m.inbound[:0]
	return dst
}

// StatusChanges hands over recorded transitions.
func (m *MockTransport) StatusChanges(dst []transport.Status) []transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst = append(dst, m.statuses...)
	m.statuses = m.statuses[:0]
	return dst
}

// Status returns the current status.
func (m *MockTransport) Status() transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Send records payload, or returns SendErr.
func (m *MockTransport) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, payload)
	return nil
}

// Sent returns a copy of every payload sent so far.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentStrings returns Sent as strings.
func (m *MockTransport) SentStrings() []string {
	sent := m.Sent()
	out := make([]string, len(sent))
	for i, p := range sent {
		out[i] = string(p)
	}
	return out
}

// ResetSent forgets recorded payloads.
func (m *MockTransport) ResetSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
