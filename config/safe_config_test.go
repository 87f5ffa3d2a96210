package config

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360/controlbus/transport"
)

func TestSafeConfig_ThreadSafety(t *testing.T) {
	baseConfig := Defaults()
	baseConfig.Bus.TickInterval = 10 * time.Millisecond

	safeConfig := NewSafeConfig(baseConfig)

	const numGoroutines = 100
	const numOperations = 1000

	var wg sync.WaitGroup
	errors := make(chan error, numGoroutines)

	// Start multiple goroutines doing concurrent reads
	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				cfg := safeConfig.Get()
				if cfg == nil {
					errors <- fmt.Errorf("Got nil config")
					return
				}
				if d := cfg.Bus.TickInterval; d != 10*time.Millisecond && d != 20*time.Millisecond {
					errors <- fmt.Errorf("Unexpected tick interval: %s", d)
					return
				}
			}
		}()
	}

	// Start multiple goroutines doing concurrent updates
	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations/10; j++ { // Fewer updates than reads
				newConfig := Defaults()
				newConfig.Bus.TickInterval = 20 * time.Millisecond
				if err := safeConfig.Update(newConfig); err != nil {
					errors <- fmt.Errorf("Update failed: %w", err)
					return
				}
			}
		}()
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errors)
		for err := range errors {
			t.Fatalf("Concurrent access error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Test timed out - possible deadlock")
	}
}

func TestSafeConfig_NilHandling(t *testing.T) {
	safeConfig := NewSafeConfig(nil)

	cfg := safeConfig.Get()
	if cfg == nil {
		t.Error("SafeConfig.Get() should not return nil even with nil base config")
	}

	err := safeConfig.Update(nil)
	if err == nil {
		t.Error("SafeConfig.Update(nil) should return an error")
	}
}

func TestSafeConfig_ValidationDuringUpdate(t *testing.T) {
	safeConfig := NewSafeConfig(Defaults())

	invalidConfig := Defaults()
	invalidConfig.Bus.TickInterval = 0

	err := safeConfig.Update(invalidConfig)
	if err == nil {
		t.Error("Update with invalid config should fail validation")
	}

	// Original config should remain unchanged
	cfg := safeConfig.Get()
	if cfg.Bus.TickInterval != DefaultTickInterval {
		t.Error("Original config was modified after failed update")
	}
}

func TestSafeConfig_DeepCopy(t *testing.T) {
	baseConfig := Defaults()
	baseConfig.Adapters = []transport.Config{{Name: "tcp", Type: "tcp"}}

	safeConfig := NewSafeConfig(baseConfig)

	cfg1 := safeConfig.Get()
	cfg2 := safeConfig.Get()

	cfg1.Bus.LivePolicy = "clear_each_tick"
	cfg1.Adapters[0].Address = "modified:1"
	cfg1.Adapters = append(cfg1.Adapters, transport.Config{Name: "ws", Type: "websocket"})

	if cfg2.Bus.LivePolicy != "" {
		t.Error("Deep copy failed - cfg2 was affected by cfg1 modification")
	}
	if len(cfg2.Adapters) != 1 || cfg2.Adapters[0].Address != "" {
		t.Error("Deep copy failed - cfg2 adapters were affected")
	}

	originalCfg := safeConfig.Get()
	if originalCfg.Adapters[0].Address != "" {
		t.Error("Original config was modified")
	}
}

func TestConfigClone(t *testing.T) {
	full := Defaults()
	full.Adapters = []transport.Config{{Name: "tcp", Type: "tcp", ReconnectInterval: time.Second}}

	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "empty config", config: &Config{}},
		{name: "full config", config: full},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clone := tt.config.Clone()

			if tt.config == nil {
				if clone == nil {
					t.Error("Clone of nil should return empty config, not nil")
				}
				return
			}

			originalLen := len(tt.config.Adapters)
			tt.config.Adapters = append(tt.config.Adapters, transport.Config{Name: "extra"})
			if len(clone.Adapters) != originalLen {
				t.Error("Clone was affected by original modification")
			}
			if originalLen > 0 && clone.Adapters[0].ReconnectInterval != time.Second {
				t.Error("Clone lost adapter durations")
			}
		})
	}
}
