package config_test

import (
	"fmt"
	"log"

	"github.com/c360/controlbus/config"
)

// ExampleLoader_Load demonstrates loading configuration from multiple layers
// with validation.
func ExampleLoader_Load() {
	loader := config.NewLoader()

	// Base configuration in YAML
	loader.AddLayer("testdata/bus.yaml")

	// Environment-specific overrides
	loader.AddLayer("testdata/production.json")

	// Enable validation to catch errors early
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Bus.TickInterval, cfg.Bus.EnvelopeLimit, len(cfg.Adapters), cfg.Log.Level)
	// Output: 8ms 8192 2 warn
}

// ExampleSafeConfig_Get demonstrates thread-safe configuration access.
// The Get method returns a deep copy, preventing accidental mutations.
func ExampleSafeConfig_Get() {
	safe := config.NewSafeConfig(config.Defaults())

	cfg := safe.Get()
	cfg.Bus.LivePolicy = "clear_each_tick" // Only affects this copy

	fmt.Printf("%q\n", safe.Get().Bus.LivePolicy)
	// Output: ""
}
