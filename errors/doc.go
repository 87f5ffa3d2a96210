// Package errors provides standardized error handling for controlbus.
//
// # Overview
//
// Errors are classified into three classes that drive how the tick pipeline
// reacts:
//
//   - Transient: connection loss, timeouts, full send queues. Transports retry
//     on their fixed reconnect interval.
//   - Invalid: malformed wire data, merge mismatches, pool misuse. The message
//     is dropped and counted, processing continues.
//   - Fatal: wiring defects such as a routing key mismatch. These are surfaced
//     from Hub.Tick instead of being dropped.
//
// # Error Wrapping Pattern
//
// All wrapping follows "component.method: action failed: %w":
//
//	return errors.WrapInvalid(err, "Codec", "Decode", "unmarshal message")
//
// Sentinels survive wrapping, so callers can branch with errors.Is:
//
//	if errors.Is(err, errors.ErrRoutingMismatch) {
//	    // wiring defect
//	}
package errors
