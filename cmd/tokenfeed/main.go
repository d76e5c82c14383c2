// tokenfeed runs the live token stream core: one stream connection, the
// channel router, and the configured stream consumers, with Prometheus
// metrics and a health endpoint.
//
// Usage: go run ./cmd/tokenfeed --config configs/tokenfeed.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tokenfeed/internal/api"
	"github.com/rickgao/tokenfeed/internal/auth"
	"github.com/rickgao/tokenfeed/internal/config"
	"github.com/rickgao/tokenfeed/internal/connection"
	"github.com/rickgao/tokenfeed/internal/consumer"
	"github.com/rickgao/tokenfeed/internal/metrics"
	"github.com/rickgao/tokenfeed/internal/router"
	"github.com/rickgao/tokenfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tokenfeed.yaml", "path to config file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting tokenfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("tokenfeed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("tokenfeed stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token, err := auth.LoadToken(cfg.API.AuthToken, cfg.API.AuthTokenPath)
	if err != nil {
		return fmt.Errorf("load auth token: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, connection.StateNames()...)

	// Historical API
	apiClient := api.NewClient(cfg.API.BaseURL, token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxAttempts, cfg.API.BaseDelay),
		api.WithMetrics(m),
	)

	// Connection Manager, then the Router reading its frames
	connMgr := connection.NewManager(managerConfig(cfg.Stream), logger, connection.WithMetrics(m))
	msgRouter := router.NewRouter(router.Config{Metrics: m}, connMgr.Frames(), connMgr, logger)

	consumers := buildConsumers(cfg.Consumers, consumer.Deps{
		Router:  msgRouter,
		API:     apiClient,
		Limits:  limits(cfg.Consumers.Limits),
		Logger:  logger,
		Metrics: m,
	})

	reconciler := consumer.NewReconciler(consumer.ReconcilerConfig{
		Interval:    cfg.Consumers.Reconcile.Interval,
		Concurrency: cfg.Consumers.Reconcile.Concurrency,
		Timeout:     cfg.Consumers.Reconcile.Timeout,
	}, connMgr, logger)

	// Start the router before consumers register so no frame is missed.
	if err := msgRouter.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start consumer %s: %w", c.Channel(), err)
		}
		reconciler.Attach(c)
	}
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := connMgr.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	connMgr.Connect(cfg.Stream.URL, token)

	logger.Info("tokenfeed running",
		"consumers", len(consumers),
		"stream_url", cfg.Stream.URL,
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/health", healthHandler(connMgr, msgRouter, consumers))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := reconciler.Stop(shutdownCtx); err != nil {
			logger.Warn("reconciler stop", "error", err)
		}
		for _, c := range consumers {
			c.Close()
		}
		for _, c := range consumers {
			c.Wait()
		}
		if err := connMgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection manager stop", "error", err)
		}
		if err := msgRouter.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func managerConfig(s config.StreamConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.Client.HandshakeTimeout = s.HandshakeTimeout
	cfg.Client.PingInterval = s.PingInterval
	cfg.Client.PongTimeout = s.PongTimeout
	cfg.Client.WriteTimeout = s.WriteTimeout
	cfg.ReconnectBaseDelay = s.ReconnectBaseDelay
	cfg.ReconnectMaxDelay = s.ReconnectMaxDelay
	cfg.ReconnectMaxExp = s.ReconnectMaxExp
	cfg.HeartbeatTimeout = s.HeartbeatTimeout
	cfg.ControlRate = s.ControlRate
	cfg.ControlBurst = s.ControlBurst
	return cfg
}

func limits(l config.LimitsConfig) consumer.Limits {
	return consumer.Limits{
		Transactions: l.Transactions,
		Holders:      l.Holders,
		Traders:      l.Traders,
		Tracker:      l.Tracker,
		Pings:        l.Pings,
		Candles:      l.Candles,
	}
}
