package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowmcp/bus"
	"github.com/petal-labs/flowmcp/config"
	"github.com/petal-labs/flowmcp/flow"
	"github.com/petal-labs/flowmcp/listener"
	"github.com/petal-labs/flowmcp/logging"
	"github.com/petal-labs/flowmcp/network"
	flowotel "github.com/petal-labs/flowmcp/otel"
	"github.com/petal-labs/flowmcp/server"
	"github.com/petal-labs/flowmcp/stream"
	"github.com/petal-labs/flowmcp/tool"
)

const (
	serviceName       = "flowmcp"
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// app holds what both transports share once configuration is resolved.
type app struct {
	cmd       *cobra.Command
	version   string
	cfg       config.Config
	selection network.Selection
	logger    *slog.Logger
	registry  *tool.Registry
	providers *flowotel.Providers
	observer  tool.Observer
}

func run(cmd *cobra.Command, version string, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "invalid configuration: %w", err)
	}
	table, err := cfg.Networks()
	if err != nil {
		return exitError(exitConfig, "loading networks: %w", err)
	}
	selection, err := cfg.Resolve(table)
	if err != nil {
		return exitError(exitConfig, "%w", err)
	}

	logCfg := cfg.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.New(logCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := flowotel.Setup(ctx, flowotel.SetupConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		TraceEndpoint:  cfg.OTelEndpoint,
	})
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Warn("flushing telemetry", "error", err)
		}
	}()

	observer, err := flowotel.NewToolObserver(providers.Meter(serviceName+"/tool"), providers.Tracer(serviceName+"/tool"))
	if err != nil {
		return exitError(exitRuntime, "initializing tool observability: %w", err)
	}

	registry, err := flowRegistry(selection, logger)
	if err != nil {
		return exitError(exitRuntime, "%w", err)
	}

	a := &app{
		cmd:       cmd,
		version:   version,
		cfg:       cfg,
		selection: selection,
		logger:    logger,
		registry:  registry,
		providers: providers,
		observer:  observer,
	}
	if cfg.Mode() == config.ModeStream {
		return a.serveStream(ctx)
	}
	return a.serveNetwork(ctx)
}

// flowRegistry builds the tool catalogue for the selected network.
func flowRegistry(selection network.Selection, logger *slog.Logger) (*tool.Registry, error) {
	client, err := flow.NewClient(flow.ClientConfig{
		AccessNode: selection.AccessNode,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flow client: %w", err)
	}
	catalog, err := flow.NewCatalog(flow.CatalogConfig{
		Client:    client,
		Selection: selection,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool catalogue: %w", err)
	}
	registry := tool.NewRegistry()
	if err := catalog.Register(registry); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return registry, nil
}

func (a *app) serveStream(ctx context.Context) error {
	dispatcher := tool.NewDispatcher(tool.DispatcherConfig{
		Registry: a.registry,
		Observer: a.observer,
		Logger:   a.logger,
	})
	transport, err := stream.New(stream.Config{
		Invoker:        dispatcher,
		Output:         a.cmd.OutOrStdout(),
		MaxMessageSize: a.cfg.MaxMessage,
		Logger:         a.logger,
	})
	if err != nil {
		return exitError(exitRuntime, "creating stream transport: %w", err)
	}

	a.logger.Info("Flow MCP Server reading requests from stdin",
		"version", a.version,
		logging.NetworkKey, a.selection.Network.Name,
		"access_node", a.selection.AccessNode,
		"tools", a.registry.Len(),
	)
	if err := transport.Serve(ctx, a.cmd.InOrStdin()); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "stream transport: %w", err)
	}
	return nil
}

func (a *app) serveNetwork(ctx context.Context) error {
	busMetrics, err := flowotel.NewBusMetrics(a.providers.Meter(serviceName + "/bus"))
	if err != nil {
		return exitError(exitRuntime, "initializing bus metrics: %w", err)
	}
	eb := bus.NewMemBus(bus.MemBusConfig{
		OnDrop: func(sessionID string, event bus.Event) {
			a.logger.Warn("dropping event for slow session",
				logging.SessionKey, sessionID,
				"kind", event.Kind,
				"seq", event.Seq,
			)
			busMetrics.RecordDrop(sessionID, event)
		},
	})
	defer func() {
		_ = eb.Close()
	}()
	if err := busMetrics.ObserveSessions(eb.Len); err != nil {
		return exitError(exitRuntime, "initializing bus metrics: %w", err)
	}

	dispatcher := tool.NewDispatcher(tool.DispatcherConfig{
		Registry: a.registry,
		Events:   busMetrics.Publisher(eb),
		Observer: a.observer,
		Logger:   a.logger,
	})
	srv := server.NewServer(server.ServerConfig{
		Registry:   a.registry,
		Invoker:    dispatcher,
		Bus:        eb,
		Network:    a.selection,
		Version:    a.version,
		Metrics:    a.providers.MetricsHandler(),
		CORSOrigin: a.cfg.CORSOrigin,
		MaxBody:    a.cfg.MaxBody,
		Logger:     a.logger,
	})

	if a.cfg.Heartbeat != "" {
		heartbeat, err := bus.NewHeartbeat(bus.HeartbeatConfig{
			Bus:     eb,
			Spec:    a.cfg.Heartbeat,
			Network: a.selection.Network.Name,
			Logger:  a.logger,
		})
		if err != nil {
			return exitError(exitConfig, "%w", err)
		}
		heartbeat.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = heartbeat.Stop(stopCtx)
		}()
	}

	ln, err := listener.Bind(ctx, listener.BindConfig{
		Host:        a.cfg.Host,
		Port:        a.cfg.Port,
		MaxAttempts: a.cfg.PortAttempts,
		Logger:      a.logger,
	})
	if err != nil {
		return exitError(exitRuntime, "binding listener: %w", err)
	}

	a.logger.Info("Flow MCP Server listening", "addr", ln.Addr().String(), "version", a.version)
	a.logger.Info("Flow network selected", logging.NetworkKey, a.selection.Network.Name)
	a.logger.Info("Flow access node", "access_node", a.selection.AccessNode)
	a.logger.Info("Flow contracts configured", "count", len(a.selection.Network.Contracts))

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		// SSE streams only end when their session is closed.
		_ = eb.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %w", err)
		}
		return nil
	}
}
