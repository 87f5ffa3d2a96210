// Package dataio is the boundary between transports and component
// controllers.
//
// An Adapter wraps one transport.Transport. On every tick it pulls the raw
// payloads the transport collected, decodes them into pooled envelopes and
// coalesces them in a message.Buffer before handing the batch to the Hub.
// The batch is returned to the pool one tick later, so listeners may keep
// reading envelope data until the end of the tick that delivered it.
//
// The Hub owns the channel.Runtime, routes inbound envelopes to registered
// component controllers, and broadcasts outgoing envelopes to every adapter
// once per tick. When an adapter reports transport.StatusConnected the hub
// sends it the declarations of every local component (the handshake).
//
// Basic usage:
//
//	hub, err := dataio.NewHub(dataio.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	touch := hub.NewComponent("touch")
//	contacts := touch.NewChannel(contactsDecl)
//	hub.RegisterComponent(touch)
//
//	if _, err := hub.AddTransport(tcpTransport); err != nil {
//		return err
//	}
//	if err := hub.Start(ctx); err != nil {
//		return err
//	}
//	defer hub.Stop(5 * time.Second)
//	return hub.Run(ctx, 10*time.Millisecond)
package dataio
