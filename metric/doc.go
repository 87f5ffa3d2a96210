// Package metric provides the Prometheus registry and HTTP endpoint used by
// controlbus.
//
// A MetricsRegistry carries the core bus metrics (message flow, tick timing,
// transport status) and lets subsystems register their own collectors under
// an owner name:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordTick(elapsed)
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop(5 * time.Second)
//
// Registering the same owner and metric name twice returns an invalid-class
// error rather than panicking, so a component can be constructed more than
// once against a shared registry as long as it uses distinct owner names.
package metric
