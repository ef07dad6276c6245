package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tcp-relay/internal/config"
	"github.com/rickgao/tcp-relay/internal/hub"
	"github.com/rickgao/tcp-relay/internal/metrics"
	"github.com/rickgao/tcp-relay/internal/natssink"
	"github.com/rickgao/tcp-relay/internal/relay"
	"github.com/rickgao/tcp-relay/internal/sink"
	"github.com/rickgao/tcp-relay/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (built-in defaults if empty)")
	port := pflag.IntP("port", "p", 0, "TCP relay port (overrides config)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	logger.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relayd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}

func loadConfig(path string, port int) (*config.RelayConfig, error) {
	var cfg *config.RelayConfig
	var err error
	if path == "" {
		cfg = config.Default()
	} else if cfg, err = config.LoadWithDefaults(path); err != nil {
		return nil, err
	}

	if port != 0 {
		cfg.Relay.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// run wires the relay, its sinks and the HTTP surfaces, and blocks until ctx
// is cancelled or a server fails.
func run(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) (err error) {
	history := sink.NewHistory(cfg.Hub.HistorySize)
	sinks := []sink.Sink{
		sink.NewLogSink(logger.With("component", "relay_events")),
		history,
	}

	if cfg.NATS.URL != "" {
		natsCfg := natssink.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		natsCfg.Name = cfg.NATS.Name

		ns, nerr := natssink.Connect(natsCfg, logger.With("component", "nats"))
		if nerr != nil {
			return nerr
		}
		defer func() { err = multierr.Append(err, ns.Close()) }()
		sinks = append(sinks, ns)
	}

	dispatcher := sink.NewDispatcher(
		sink.DispatcherConfig{InitialBuffer: cfg.Dispatch.BufferSize},
		logger.With("component", "dispatcher"),
		sinks...,
	)

	server := relay.NewServer(relay.Config{
		Bind:            cfg.Relay.Bind,
		ReadBufferBytes: cfg.Relay.ReadBufferBytes,
		MaxLineBytes:    cfg.Relay.MaxLineBytes,
	}, dispatcher, logger.With("component", "relay"))

	hubCfg := hub.DefaultConfig()
	hubCfg.WriteTimeout = cfg.Hub.WriteTimeout
	dashboard := hub.New(hubCfg, server, history, logger.With("component", "hub"))
	dashboard.SetIngest(dispatcher)
	if err := dispatcher.Attach(dashboard); err != nil {
		return err
	}

	sampler := metrics.NewSampler(metrics.SamplerConfig{
		Interval: cfg.Hub.MetricsInterval,
		ClientID: sink.ServerClientID,
	}, dispatcher, logger.With("component", "sampler"))

	collector := metrics.NewCollector(metrics.Sources{
		Relay:    server.Stats,
		Dispatch: dispatcher.Stats,
		Hub:      dashboard.Stats,
	})
	reg := metrics.NewRegistry(collector)

	dispatcher.Start(ctx)

	if err := server.Start(cfg.Relay.Port); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		return multierr.Append(fmt.Errorf("start relay: %w", err), dispatcher.Stop(stopCtx))
	}

	hubMux := http.NewServeMux()
	hubMux.Handle(cfg.Hub.Path, dashboard)
	hubServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Hub.Port),
		Handler:           hubMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(server, dispatcher, dashboard, metrics.Handler(reg), cfg.Metrics.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("relayd running",
		"relay_addr", server.Addr().String(),
		"hub_url", fmt.Sprintf("ws://localhost:%d%s", cfg.Hub.Port, cfg.Hub.Path),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(hubServer, "hub", logger) })
	g.Go(func() error { return serveHTTP(healthServer, "health", logger) })
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		return shutdown(server, dispatcher, dashboard, logger, hubServer, healthServer)
	})

	return g.Wait()
}

func serveHTTP(srv *http.Server, name string, logger *slog.Logger) error {
	logger.Info("starting http server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// shutdown stops the relay first so its final events still reach the
// sinks, then the HTTP surfaces, then drains the dispatcher.
func shutdown(server *relay.Server, dispatcher *sink.Dispatcher, dashboard *hub.Hub, logger *slog.Logger, servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Stop()

	for _, srv := range servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	err = multierr.Append(err, dashboard.Close(ctx))
	err = multierr.Append(err, dispatcher.Stop(ctx))

	if err != nil {
		logger.Warn("shutdown completed with errors", "error", err)
	}
	return err
}
