package transport

import "fmt"

// Status is the connection state of a transport.
type Status int

const (
	// StatusUndefined is the zero value before a transport has started.
	StatusUndefined Status = iota
	// StatusDisconnected means no peer is connected; a reconnect may follow.
	StatusDisconnected
	// StatusConnecting means a dial or subscription is in progress.
	StatusConnecting
	// StatusConnected means payloads can flow in both directions.
	StatusConnected
	// StatusError means the last attempt failed.
	StatusError
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusUndefined:
		return "undefined"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Healthy reports whether the status is Connected.
func (s Status) Healthy() bool {
	return s == StatusConnected
}
