package message

import (
	"fmt"
	"maps"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/pkg/pool"
)

// Envelope is the in-memory form of one routed message.
//
// Envelopes are mutable and pooled. Obtain them from a Pool, hand them to a
// Buffer or a controller, and let the owning layer return them with Pool.Put
// once the batch they belong to has been consumed.
type Envelope struct {
	Kind       Kind
	Key        ChannelInstanceKey
	Properties map[string]string
	Parameters ParameterSet

	handle pool.Handle
}

// NewEnvelope returns an unpooled envelope. Pool.Put ignores it.
func NewEnvelope(kind Kind, key ChannelInstanceKey) *Envelope {
	return &Envelope{Kind: kind, Key: key}
}

// Pooled reports whether the envelope belongs to a Pool.
func (e *Envelope) Pooled() bool {
	return e.handle.Valid()
}

// SetProperty stores a string property.
func (e *Envelope) SetProperty(name, value string) {
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	e.Properties[name] = value
}

// Property returns a string property.
func (e *Envelope) Property(name string) (string, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

// Push merges other into e. Parameters and properties of other overwrite
// those of e by name. Both envelopes must share key and kind; otherwise
// ErrMergeMismatch is returned and e is left untouched.
func (e *Envelope) Push(other *Envelope) error {
	if other.Kind != e.Kind || other.Key != e.Key {
		return errors.WrapInvalid(errors.ErrMergeMismatch, "Envelope", "Push",
			fmt.Sprintf("merge %s %s into %s %s", other.Kind, other.Key, e.Kind, e.Key))
	}

	e.Parameters.Apply(&other.Parameters)
	if len(other.Properties) > 0 {
		if e.Properties == nil {
			e.Properties = make(map[string]string, len(other.Properties))
		}
		maps.Copy(e.Properties, other.Properties)
	}
	return nil
}

// Reset clears the envelope for reuse. Storage and pool membership are kept.
func (e *Envelope) Reset() {
	e.Kind = KindUnknown
	e.Key = ChannelInstanceKey{}
	clear(e.Properties)
	e.Parameters.Reset()
}

// String renders the envelope for logs.
func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s %s", e.Kind, e.Key, e.Parameters.String())
}
