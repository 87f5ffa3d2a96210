// Package message defines the values that travel on the control bus and the
// per-tick machinery that recycles and coalesces them.
//
// # Keys
//
// Every message is routed by a ChannelInstanceKey: component, channel and an
// optional instance. An empty instance addresses the channel's static target.
// Keys are comparable structs and are used directly as map keys.
//
// # Envelopes
//
// An Envelope carries a Kind (create, control, destroy, event or component),
// a key, string properties and a ParameterSet. Parameter sets map names to
// ordered float sequences; merging replaces whole sequences by name.
//
// # Pooling and coalescing
//
// Envelopes come from a Pool backed by an index-addressed slab, so steady
// traffic does not allocate. A Buffer absorbs the envelopes produced between
// two ticks and keeps at most one per (key, kind):
//
//	pool, _ := message.NewPool()
//	buf := message.NewBuffer(pool)
//
//	env := pool.Get(message.KindControl, message.NewInstanceKey("touch", "contacts", "7"))
//	env.Parameters.Set("position", 0.25, 0.75)
//	_ = buf.Enqueue(env)
//
//	batch := buf.Drain(nil)
//	// ... route batch ...
//	_ = pool.PutAll(batch)
//
// # Wire format
//
// Codec converts envelopes to and from the JSON wire format:
//
//	{"type":"control","component":"touch","channel":"contacts","instance":"7",
//	 "parameters":{"position":[0.25,0.75]},"properties":{"source":"table"}}
//
// Component messages carry declarations instead of parameters and are
// validated against an embedded JSON schema before they are accepted.
//
// Nothing in this package is safe for concurrent use. It is driven from the
// single goroutine that runs the tick.
package message
