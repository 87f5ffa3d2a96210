// Package health tracks adapter health for the bus.
//
// A Status is healthy, degraded or unhealthy. Adapter health derives from the
// transport status: connected is healthy, connecting is degraded and anything
// else is unhealthy. A Monitor keeps the latest Status per adapter, remembers
// when each entered its current state, and folds them into one aggregate for
// the /health endpoint:
//
//	monitor := health.NewMonitor()
//	monitor.Update("peers", health.FromTransport("peers", transport.StatusConnected, "", nil))
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.SetHealthFunc(monitor.HealthFunc("controlbus"))
//
// Error text placed in a Status is passed through Sanitize first, which
// replaces URLs, paths, IP addresses, ports and credential-like pairs.
package health
