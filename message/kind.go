package message

import (
	"fmt"

	"github.com/c360/controlbus/errors"
)

// Kind is the closed set of message kinds carried on the bus.
type Kind uint8

const (
	// KindUnknown is the zero value and never valid on the wire.
	KindUnknown Kind = iota
	// KindCreate establishes a new instance.
	KindCreate
	// KindControl updates an instance, or the static target.
	KindControl
	// KindDestroy ends an instance.
	KindDestroy
	// KindEvent is a discrete occurrence. Events are never coalesced.
	KindEvent
	// KindComponent carries component declarations, not parameter data.
	KindComponent
)

// Kinds lists every valid kind in wire order.
var Kinds = [...]Kind{KindCreate, KindControl, KindDestroy, KindEvent, KindComponent}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindControl:
		return "control"
	case KindDestroy:
		return "destroy"
	case KindEvent:
		return "event"
	case KindComponent:
		return "component"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCreate && k <= KindComponent
}

// ParseKind maps a wire name to its Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "create":
		return KindCreate, nil
	case "control":
		return KindControl, nil
	case "destroy":
		return KindDestroy, nil
	case "event":
		return KindEvent, nil
	case "component":
		return KindComponent, nil
	default:
		return KindUnknown, errors.WrapInvalid(errors.ErrUnknownKind, "Kind", "ParseKind",
			fmt.Sprintf("parse %q", s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownKind, "Kind", "MarshalText",
			fmt.Sprintf("marshal %s", k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
