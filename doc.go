// Package controlbus is a real-time control message bus. Remote peers create,
// update and destroy named instances on declared channels of declared
// components; the bus coalesces those messages per tick and delivers them to
// local listeners in a fixed order, while local outputs send the same kinds of
// messages back out to every connected peer.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Transports                   │  tcp, websocket, nats, memory
//	│  (raw payloads, connection status)  │  own goroutines, thread-safe queues
//	└─────────────────────────────────────┘
//	           ↓ drained each tick by
//	┌─────────────────────────────────────┐
//	│        dataio.Adapter / Hub         │  decode, coalesce, route,
//	│   (tick goroutine only)             │  handshake, broadcast
//	└─────────────────────────────────────┘
//	           ↓ routes envelopes to
//	┌─────────────────────────────────────┐
//	│  component.Controller               │  one per component identifier
//	│    channel.Controller / Output      │  instance lifecycle, listeners
//	└─────────────────────────────────────┘
//
// # Tick Model
//
// Everything above the transports runs on one goroutine. A tick:
//
//  1. Applies connection status changes. A newly connected transport is sent
//     the declarations of every local component.
//  2. Drains each adapter. Messages received since the last tick are decoded
//     and coalesced so that a channel sees creates, then controls, then
//     destroys, then events, and repeated controls for one instance collapse
//     into a single envelope.
//  3. Routes each envelope to the component that owns it. Channel controllers
//     create and update instances and call their listeners.
//  4. Runs LateUpdate on every component, ending the tick for live instances.
//  5. Flushes outbound messages queued by channel outputs to every adapter.
//
// Envelopes and instances come from bounded slab pools owned by a
// channel.Runtime, so a steady-state tick does not allocate.
//
// # Packages
//
//   - message: keys, parameter sets, envelopes, the coalescing buffer and the
//     JSON wire codec
//   - channel: instances, channel controllers, outputs and listeners
//   - component: per-component routing and declarations
//   - transport: the transport contract and its tcp, websocket, nats and
//     memory implementations
//   - dataio: adapters and the hub that ticks the bus
//   - config: layered JSON/YAML configuration with env overrides
//   - metric, health: Prometheus metrics and transport health
//
// # Quick Start
//
//	hub, _ := dataio.NewHub(dataio.WithLogger(logger))
//
//	touch := hub.NewComponent("touch")
//	contacts := touch.NewChannel(decl)
//	contacts.AddListener(channel.ListenerFuncs{
//		Create: func(c *channel.Controller, inst *channel.Instance) { ... },
//	})
//	hub.RegisterComponent(touch)
//
//	tr, _ := registry.Create(transport.Config{Type: "tcp", Mode: "server", Address: ":9500"}, deps)
//	hub.AddTransport(tr)
//
//	_ = hub.Start(ctx)
//	_ = hub.Run(ctx, 10*time.Millisecond)
//
// The cmd/controlbus binary does the same from a configuration file.
package controlbus
