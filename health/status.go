package health

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/controlbus/transport"
)

// State is the coarse health of one part of the bus.
type State int

const (
	StateUnhealthy State = iota
	StateDegraded
	StateHealthy
)

// String returns the lowercase state name used on the wire.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "healthy":
		*s = StateHealthy
	case "degraded":
		*s = StateDegraded
	case "unhealthy":
		*s = StateUnhealthy
	default:
		return fmt.Errorf("unknown health state %q", name)
	}
	return nil
}

// Status is the health of a named adapter, or of the whole bus when it
// carries Parts.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Since     time.Time `json:"since"`
	Updated   time.Time `json:"updated"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Parts     []Status  `json:"parts,omitempty"`
}

// Metrics are adapter counters attached to a Status.
type Metrics struct {
	ErrorCount        int   `json:"error_count"`
	MessagesProcessed int64 `json:"messages_processed"`
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// NewStatus returns a status stamped with the current time.
func NewStatus(name string, state State, message string) Status {
	now := time.Now()
	return Status{Name: name, State: state, Message: message, Since: now, Updated: now}
}

// FromTransport derives adapter health from its transport status. Connected
// is healthy, Connecting is degraded and everything else is unhealthy. A
// non-empty lastError replaces the message of an unhealthy or degraded status
// after sanitization.
func FromTransport(name string, status transport.Status, lastError string, metrics *Metrics) Status {
	var st Status
	switch status {
	case transport.StatusConnected:
		st = NewStatus(name, StateHealthy, "Connected")
	case transport.StatusConnecting:
		st = NewStatus(name, StateDegraded, "Connecting")
	case transport.StatusError:
		st = NewStatus(name, StateUnhealthy, "Connection error")
	default:
		st = NewStatus(name, StateUnhealthy, "Not connected")
	}

	if lastError != "" && !st.IsHealthy() {
		st.Message = Sanitize(lastError)
	}
	st.Transport = status.String()
	st.Metrics = metrics
	return st
}

// Aggregate folds parts into one status: any unhealthy part makes it
// unhealthy, otherwise any degraded part makes it degraded. An empty set is
// healthy. Parts are copied in the given order.
func Aggregate(name string, parts []Status) Status {
	state := StateHealthy
	var unhealthy, degraded int
	for _, p := range parts {
		switch p.State {
		case StateUnhealthy:
			unhealthy++
		case StateDegraded:
			degraded++
		}
		state = min(state, p.State)
	}

	var msg string
	switch {
	case len(parts) == 0:
		msg = "No adapters"
	case unhealthy > 0:
		msg = fmt.Sprintf("%d of %d adapters unhealthy", unhealthy, len(parts))
	case degraded > 0:
		msg = fmt.Sprintf("%d of %d adapters degraded", degraded, len(parts))
	default:
		msg = fmt.Sprintf("All %d adapters healthy", len(parts))
	}

	st := NewStatus(name, state, msg)
	if len(parts) > 0 {
		st.Parts = append([]Status(nil), parts...)
	}
	return st
}
