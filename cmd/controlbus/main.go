// Package main runs a standalone control bus host. It loads a configuration,
// hosts the declared components, connects the configured transports and ticks
// the hub at a fixed rate until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/controlbus/channel"
	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/dataio"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/transport"
	"github.com/c360/controlbus/transport/nats"
	"github.com/c360/controlbus/transport/tcp"
	"github.com/c360/controlbus/transport/websocket"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "controlbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	logger := setupLogger(firstNonEmpty(cliCfg.LogLevel, cfg.Log.Level), firstNonEmpty(cliCfg.LogFormat, cfg.Log.Format))
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid",
			"adapters", len(cfg.Adapters),
			"components", len(cfg.Components))
		return nil
	}

	logger.Info("Starting control bus",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"tick_interval", cfg.Bus.TickInterval)

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	hub, err := dataio.NewHub(
		dataio.WithLogger(logger),
		dataio.WithMetrics(metricsRegistry),
		dataio.WithPoolLimits(cfg.Bus.EnvelopeLimit, cfg.Bus.InstanceLimit, cfg.Bus.Prealloc),
		dataio.WithHealthMonitor(monitor),
		dataio.WithStrictRouting(cfg.Bus.StrictRouting),
	)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	hostComponents(hub, cfg.Components, cfg.LivePolicy(), logger)
	hub.OnDeclaration(func(a *dataio.Adapter, decls []message.ComponentDeclaration) {
		for _, d := range decls {
			logger.Info("Remote component declared", "adapter", a.Name(), "component", d.Identifier, "channels", len(d.Channels))
		}
	})

	if err := connectTransports(hub, cfg.Adapters, transport.Dependencies{
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	}); err != nil {
		return err
	}

	return runWithSignalHandling(context.Background(), hub, cfg, metricsRegistry, monitor, cliCfg.ShutdownTimeout)
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newTransportRegistry registers every network transport type.
func newTransportRegistry() (*transport.Registry, error) {
	registry := transport.NewRegistry()
	for _, register := range []func(*transport.Registry) error{
		tcp.Register,
		websocket.Register,
		nats.Register,
	} {
		if err := register(registry); err != nil {
			return nil, fmt.Errorf("register transports: %w", err)
		}
	}
	return registry, nil
}

// connectTransports builds one adapter per configured transport.
func connectTransports(hub *dataio.Hub, adapters []transport.Config, deps transport.Dependencies) error {
	registry, err := newTransportRegistry()
	if err != nil {
		return err
	}

	for _, cfg := range adapters {
		tr, err := registry.Create(cfg, deps)
		if err != nil {
			return fmt.Errorf("create transport %s: %w", cfg.Name, err)
		}
		if _, err := hub.AddTransport(tr); err != nil {
			return fmt.Errorf("add transport %s: %w", cfg.Name, err)
		}
	}

	slog.Info("Transports configured", "count", len(adapters), "types", registry.Types())
	return nil
}

// hostComponents registers a component controller for every declaration. Each
// channel gets a listener that logs instance lifecycle at debug level.
func hostComponents(hub *dataio.Hub, decls []message.ComponentDeclaration, policy channel.LivePolicy, logger *slog.Logger) {
	trace := channel.ListenerFuncs{
		Create: func(ctrl *channel.Controller, inst *channel.Instance) {
			logger.Debug("Instance created", "channel", ctrl.Key().String(), "instance", inst.Identifier(),
				"parameters", inst.Parameters.String())
		},
		Control: func(ctrl *channel.Controller, inst *channel.Instance) {
			logger.Debug("Instance controlled", "channel", ctrl.Key().String(), "instance", inst.Identifier(),
				"parameters", inst.Parameters.String())
		},
		Destroy: func(ctrl *channel.Controller, inst *channel.Instance) {
			logger.Debug("Instance destroyed", "channel", ctrl.Key().String(), "instance", inst.Identifier())
		},
		Static: func(ctrl *channel.Controller, params *message.ParameterSet) {
			logger.Debug("Static control", "channel", ctrl.Key().String(), "parameters", params.String())
		},
	}

	for _, decl := range decls {
		comp := hub.NewComponent(decl.Identifier)
		for _, ch := range decl.Channels {
			comp.NewChannel(ch, channel.WithLivePolicy(policy)).AddListener(trace)
		}
		hub.RegisterComponent(comp)
		logger.Info("Hosting component", "component", decl.Identifier, "channels", len(decl.Channels))
	}
}

// runWithSignalHandling starts the hub, the tick loop and the metrics server
// and waits for a shutdown signal.
func runWithSignalHandling(
	ctx context.Context,
	hub *dataio.Hub,
	cfg *config.Config,
	metricsRegistry *metric.MetricsRegistry,
	monitor *health.Monitor,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Transports outlive the signal so Close can still reach their peers;
	// hub.Stop ends them.
	if err := hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		return hub.Run(gctx, cfg.Bus.TickInterval)
	})

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		server.SetHealthFunc(monitor.HealthFunc(appName))
		g.Go(server.Start)
		slog.Info("Metrics server listening", "address", server.Address())
	}

	g.Go(func() error {
		<-gctx.Done()
		if server != nil {
			return server.Stop(shutdownTimeout)
		}
		return nil
	})

	slog.Info("Control bus started", "adapters", len(cfg.Adapters), "components", len(cfg.Components))

	runErr := g.Wait()
	if signalCtx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	// Close queues the final destroys; Stop lets peers drain them before
	// closing connections.
	hub.Close()
	if err := hub.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping transports", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return fmt.Errorf("control bus stopped: %w", runErr)
	}
	slog.Info("Control bus shutdown complete")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
