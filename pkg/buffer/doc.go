// Package buffer provides Handoff, the only structure in controlbus shared
// between goroutines.
//
// Transport goroutines do blocking I/O and Push self-contained items (raw
// frame payloads, status transitions). The tick goroutine takes them out:
//
//	inbound, _ := buffer.NewHandoff[[]byte](buffer.ModePush,
//		buffer.WithCapacity[[]byte](4096),
//		buffer.WithMetrics[[]byte](registry, "tcp_inbound"),
//	)
//
//	// reader goroutine
//	_ = inbound.Push(payload)
//
//	// once per tick
//	frames, _ = inbound.Swap(frames[:0])
//
// # Delivery modes
//
// ModePush is for continuous consumers that take everything once per tick
// with Swap. ModePull is for consumers that wait on Ready and take one item
// at a time with Dequeue. Calling the other mode's method returns
// errors.ErrModeMismatch rather than silently mixing the two.
//
// # Overflow
//
// A Handoff is unbounded unless WithCapacity is given. When bounded, the
// overflow policy decides whether the oldest queued item (DropOldest, the
// default) or the incoming one (DropNewest) is discarded. Drops are counted
// and reported to an optional DropCallback, which runs outside the lock.
//
// # Observability
//
// Statistics are always collected and available from Stats(). Prometheus
// metrics are added with WithMetrics.
package buffer
