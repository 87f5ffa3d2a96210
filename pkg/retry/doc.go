// Package retry provides the backoff loops used by transports and clients.
//
// Transports reconnect on a fixed interval until their context is cancelled:
//
//	err := retry.DoNotify(ctx, retry.Fixed(2*time.Second), dial,
//		func(attempt int, err error, wait time.Duration) {
//			logger.Warn("dial failed", "attempt", attempt, "retry_in", wait, "error", err)
//		})
//
// One-shot operations use a bounded exponential backoff:
//
//	conn, err := retry.DoWithResult(ctx, retry.Backoff(5), connect)
//
// Errors wrapped with NonRetryable stop the loop immediately. Waits always
// select on the context, so cancelling it ends a loop within one poll rather
// than after the full interval.
package retry
