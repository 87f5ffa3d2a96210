// Package channel implements the per-channel half of the control bus: the
// Controller that consumes routed envelopes and the Output that produces
// them locally.
//
// A channel carries any number of dynamic instances plus one static
// parameter state. Create and control envelopes fetch-or-create the
// addressed instance and apply their parameters; destroy moves it to a dead
// list that LateUpdate returns to the shared pool once the tick is over, so
// listeners may keep reading a destroyed instance until then.
//
// Controllers are strict about routing. An envelope for another component or
// channel returns a *RoutingError and mutates nothing, because it can only
// come from miswired controllers.
//
// Pools, loggers and metrics come from a Runtime built once per hub.
package channel
