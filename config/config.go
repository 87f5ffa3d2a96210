package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/transport"
)

// Defaults applied by the Loader before any layer.
const (
	DefaultTickInterval = 10 * time.Millisecond
	DefaultMetricsPort  = 9090
	DefaultMetricsPath  = "/metrics"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Config represents the complete bus configuration.
type Config struct {
	Bus        BusConfig                      `json:"bus" yaml:"bus"`
	Adapters   []transport.Config             `json:"adapters" yaml:"adapters"`
	Components []message.ComponentDeclaration `json:"components" yaml:"components"`
	Metrics    MetricsConfig                  `json:"metrics" yaml:"metrics"`
	Log        LogConfig                      `json:"log" yaml:"log"`
}

// BusConfig sizes the hub and its tick loop.
type BusConfig struct {
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`

	// Pool limits; 0 means unbounded.
	EnvelopeLimit int `json:"envelope_limit,omitempty" yaml:"envelope_limit,omitempty"`
	InstanceLimit int `json:"instance_limit,omitempty" yaml:"instance_limit,omitempty"`
	Prealloc      int `json:"prealloc,omitempty" yaml:"prealloc,omitempty"`

	// LivePolicy is "retain" or "clear_each_tick".
	LivePolicy    string `json:"live_policy,omitempty" yaml:"live_policy,omitempty"`
	StrictRouting bool   `json:"strict_routing,omitempty" yaml:"strict_routing,omitempty"`
}

// MetricsConfig controls the metrics and health HTTP server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks the configuration and normalizes adapter defaults.
func (c *Config) Validate() error {
	if c.Bus.TickInterval <= 0 {
		return invalid("bus.tick_interval must be positive")
	}
	if c.Bus.EnvelopeLimit < 0 || c.Bus.InstanceLimit < 0 || c.Bus.Prealloc < 0 {
		return invalid("bus pool sizes must not be negative")
	}
	if _, err := channel.ParseLivePolicy(c.Bus.LivePolicy); err != nil {
		return fmt.Errorf("bus.live_policy: %w", err)
	}

	names := make(map[string]struct{}, len(c.Adapters))
	for i := range c.Adapters {
		c.Adapters[i] = c.Adapters[i].WithDefaults()
		a := c.Adapters[i]
		if err := a.Validate(); err != nil {
			return fmt.Errorf("adapters[%d]: %w", i, err)
		}
		if _, dup := names[a.Name]; dup {
			return invalid(fmt.Sprintf("adapters[%d]: duplicate name %q", i, a.Name))
		}
		names[a.Name] = struct{}{}
	}

	ids := make(map[string]struct{}, len(c.Components))
	for i, d := range c.Components {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("components[%d]: %w", i, err)
		}
		if _, dup := ids[d.Identifier]; dup {
			return invalid(fmt.Sprintf("components[%d]: duplicate identifier %q", i, d.Identifier))
		}
		ids[d.Identifier] = struct{}{}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid(fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q is not debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q is not json or text", c.Log.Format))
	}

	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, errors.ErrInvalidConfig)
}

// LivePolicy returns the parsed bus live policy. Call after Validate.
func (c *Config) LivePolicy() channel.LivePolicy {
	p, _ := channel.ParseLivePolicy(c.Bus.LivePolicy)
	return p
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "CONTROLBUS",
	}
}

// AddLayer adds a configuration file layer. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the configuration every Loader starts from.
func Defaults() *Config {
	return &Config{
		Bus: BusConfig{
			TickInterval: DefaultTickInterval,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    DefaultMetricsPath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// loadRaw loads a configuration file as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse YAML")
		}
	} else {
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse JSON")
		}
	}

	if err := l.parseDurations(rawConfig); err != nil {
		return nil, err
	}
	return rawConfig, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(l.deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "mergeFromMap", "decode merged config")
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) error {
	if bus, ok := data["bus"].(map[string]any); ok {
		if err := parseDurationField(bus, "tick_interval", "bus"); err != nil {
			return err
		}
	}

	if adapters, ok := data["adapters"].([]any); ok {
		for i, raw := range adapters {
			adapter, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if err := parseDurationField(adapter, "reconnect_interval", fmt.Sprintf("adapters[%d]", i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseDurationField(section map[string]any, key, where string) error {
	s, ok := section[key].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", where, key, errors.WrapInvalid(err, "Loader", "parseDurations", "parse duration"))
	}
	section[key] = d.Nanoseconds()
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := make(map[string]string)
	for _, name := range []string{
		"TICK_INTERVAL", "LIVE_POLICY", "STRICT_ROUTING",
		"METRICS_PORT", "METRICS_PATH", "LOG_LEVEL", "LOG_FORMAT",
	} {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		env[name] = val
	}

	if val := env["TICK_INTERVAL"]; val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_TICK_INTERVAL: %w", l.envPrefix, err)
		}
		cfg.Bus.TickInterval = d
	}
	if val := env["LIVE_POLICY"]; val != "" {
		cfg.Bus.LivePolicy = val
	}
	if val := env["STRICT_ROUTING"]; val != "" {
		strict, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_STRICT_ROUTING: %w", l.envPrefix, err)
		}
		cfg.Bus.StrictRouting = strict
	}
	if val := env["METRICS_PORT"]; val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}
	if val := env["METRICS_PATH"]; val != "" {
		cfg.Metrics.Path = val
	}
	if val := env["LOG_LEVEL"]; val != "" {
		cfg.Log.Level = val
	}
	if val := env["LOG_FORMAT"]; val != "" {
		cfg.Log.Format = val
	}

	return nil
}

// SaveToFile saves the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
