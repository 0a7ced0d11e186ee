// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/resmgr/leasecore/internal/clock"
	"github.com/resmgr/leasecore/internal/config"
	"github.com/resmgr/leasecore/internal/domain"
	"github.com/resmgr/leasecore/internal/executor"
	xglog "github.com/resmgr/leasecore/internal/log"
	"github.com/resmgr/leasecore/internal/notify"
	"github.com/resmgr/leasecore/internal/notify/redisbus"
	"github.com/resmgr/leasecore/internal/orchestrator"
	"github.com/resmgr/leasecore/internal/plugin"
	_ "github.com/resmgr/leasecore/internal/plugin/dummyplugin"
	"github.com/resmgr/leasecore/internal/rpc"
	"github.com/resmgr/leasecore/internal/scheduler"
	"github.com/resmgr/leasecore/internal/store/sqlite"
	"github.com/resmgr/leasecore/internal/telemetry"
	"github.com/resmgr/leasecore/internal/trust"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("leasecored %s (commit: %s)\n", version, commit)
		return
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "leasecore", Version: version})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder, err := config.NewHolder(config.NewLoader(*configPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg := holder.Get()

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "leasecore", Version: version})
	logger = xglog.WithComponent("daemon")

	if err := holder.WatchFile(ctx, *configPath); err != nil {
		logger.Warn().Err(err).Msg("config file watcher did not start, hot reload disabled")
	}
	defer holder.Stop()

	if err := runDaemon(ctx, logger, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("leasecored exited with error")
	}
	logger.Info().Msg("leasecored stopped cleanly")
}

// runDaemon wires every component together and blocks until ctx is
// canceled (SIGINT/SIGTERM) or a fatal startup error occurs.
func runDaemon(ctx context.Context, logger zerolog.Logger, cfg config.AppConfig) error {
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.OTLPEndpoint != "",
		ServiceName:    "leasecore",
		ServiceVersion: version,
		ExporterType:   "grpc",
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	gw, err := sqlite.Open(cfg.Store.DSN, sqlite.Config{
		BusyTimeout:  cfg.Store.BusyTimeout,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing store gateway failed")
		}
	}()

	pluginConfigs := make([]plugin.PluginConfig, len(cfg.Manager.Plugins))
	for i, name := range cfg.Manager.Plugins {
		pluginConfigs[i] = plugin.PluginConfig{FactoryName: name}
	}
	registry, err := plugin.Load(pluginConfigs)
	if err != nil {
		return fmt.Errorf("plugins: %w", err)
	}

	emitter, closeEmitter, err := buildEmitter(ctx, cfg.Notify)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer closeEmitter()

	scoper := trust.Static{}
	wallClock := clock.Real()

	exec := executor.New(gw, registry, emitter, scoper, wallClock, executor.Config{
		EventMaxRetries: cfg.Manager.EventMaxRetries,
		PluginTimeout:   cfg.Manager.PluginTimeout,
		PluginRate:      cfg.Manager.PluginRate,
		PluginBurst:     cfg.Manager.PluginBurst,
	})

	orch := orchestrator.New(gw, registry, emitter, scoper, wallClock, orchestrator.Config{
		MinutesBeforeEndLease: cfg.Manager.MinutesBeforeEndLease,
	}, exec)

	trustLookup := func(ctx context.Context, leaseID string) (string, domain.LeaseStatus, error) {
		lease, err := gw.GetLease(ctx, leaseID)
		if err != nil {
			return "", "", err
		}
		return lease.TrustID, lease.Status, nil
	}

	sched := scheduler.New(gw, exec, orch.Handlers(), trustLookup, wallClock, scheduler.Config{
		Interval:       cfg.Manager.EventInterval,
		MaxConcurrency: cfg.Manager.SchedulerConcurrency,
		CheckpointPath: cfg.Manager.CheckpointPath,
	})

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	dispatcher := rpc.New(orch, registry)
	router, err := rpc.NewRouter(dispatcher, rpc.ServerConfig{
		RateLimitRequests: cfg.RPC.RateLimitPerMin,
		RateLimitWindow:   cfg.RPC.RateLimitWindow,
	})
	if err != nil {
		sched.Stop()
		return fmt.Errorf("rpc router: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", router)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.RPC.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.RPC.ListenAddr).Msg("rpc server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("rpc server did not shut down cleanly")
	}

	sched.Stop()
	<-schedDone

	if provider != nil {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}

	return nil
}

// buildEmitter wires the Redis-backed notification bus when
// notify.redisAddr is configured, falling back to a no-op emitter for
// local and development use when no bus is configured.
func buildEmitter(ctx context.Context, cfg config.NotifyConfig) (notify.Emitter, func(), error) {
	if cfg.RedisAddr == "" {
		return notify.Noop{}, func() {}, nil
	}

	bus, err := redisbus.New(ctx, redisbus.Config{
		Addr:       cfg.RedisAddr,
		Channel:    cfg.Channel,
		LedgerPath: cfg.LedgerDir,
		LedgerTTL:  cfg.LedgerTTL,
	})
	if err != nil {
		return nil, func() {}, err
	}

	return bus, func() {
		if err := bus.Close(); err != nil {
			logger := xglog.WithComponent("notify")
			logger.Warn().Err(err).Msg("closing redis notification bus failed")
		}
	}, nil
}
