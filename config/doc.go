// Package config loads the bus configuration.
//
// A Config has five sections: bus (tick interval, pool limits, live policy,
// strict routing), adapters (one transport.Config per transport), components
// (declarations of locally hosted components), metrics and log.
//
// # Loading
//
// Loader merges layers on top of Defaults. Each layer is a JSON or YAML file;
// maps merge key by key while lists replace the previous value. Durations may
// be written as strings ("16ms"). Environment variables prefixed with
// CONTROLBUS_ override individual settings after all layers are applied:
//
//	CONTROLBUS_TICK_INTERVAL   bus.tick_interval
//	CONTROLBUS_LIVE_POLICY     bus.live_policy
//	CONTROLBUS_STRICT_ROUTING  bus.strict_routing
//	CONTROLBUS_METRICS_PORT    metrics.port
//	CONTROLBUS_METRICS_PATH    metrics.path
//	CONTROLBUS_LOG_LEVEL       log.level
//	CONTROLBUS_LOG_FORMAT      log.format
//
// Basic usage:
//
//	loader := config.NewLoader()
//	loader.AddLayer("controlbus.yaml")
//	loader.AddLayer("production.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Thread Safety
//
// Config values are plain data. SafeConfig wraps one behind a RWMutex and
// hands out deep copies from Get.
//
// # Security
//
// Config files are read through size, path and nesting-depth checks, and
// environment values are rejected if they are oversized or contain NUL bytes.
package config
