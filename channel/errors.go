package channel

import (
	"fmt"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// RoutingError reports an envelope delivered to a controller that does not
// own its key. It indicates a wiring defect, not a network condition, and is
// classified fatal.
type RoutingError struct {
	Controller message.ChannelKey
	Kind       message.Kind
	Key        message.ChannelInstanceKey
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("channel %s received %s for %s: %v",
		e.Controller, e.Kind, e.Key, errors.ErrRoutingMismatch)
}

// Unwrap exposes ErrRoutingMismatch to errors.Is.
func (e *RoutingError) Unwrap() error {
	return errors.ErrRoutingMismatch
}
