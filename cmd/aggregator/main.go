// Package main is the entry point for the order book aggregator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dexagg/orderbook-aggregator/business/exchanges"
	exchangesDI "github.com/dexagg/orderbook-aggregator/business/exchanges/di"
	"github.com/dexagg/orderbook-aggregator/business/marketdata"
	"github.com/dexagg/orderbook-aggregator/business/stream"
	streamDI "github.com/dexagg/orderbook-aggregator/business/stream/di"
	"github.com/dexagg/orderbook-aggregator/internal/apm"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/health"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/metrics"
	"github.com/dexagg/orderbook-aggregator/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orderbook-aggregator %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	log.Info(ctx, "starting order book aggregator",
		"version", version,
		"environment", cfg.App.Environment,
	)

	// Initialize observability if enabled
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(apm.ZipkinProvider, log))
		log.Info(ctx, "tracing initialized", "provider", "zipkin", "endpoint", cfg.Telemetry.OTLPEndpoint)

		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	// Create monolith (application container)
	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}

	stream.Version = version

	// Define modules in dependency order
	modules := []monolith.Module{
		&marketdata.Module{}, // Must be first - owns the book store
		&exchanges.Module{},  // Feeds the store from both venues
		&stream.Module{},     // Serves clients from the store
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	// Health server reports venue connectivity for orchestration probes
	healthServer := health.NewServer(cfg.Server.HealthPort, version)
	registerHealthChecks(healthServer, mono)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Server.HealthPort)
	}

	log.Info(ctx, "all modules started", "port", cfg.Server.Port)

	// Wait for shutdown
	<-ctx.Done()

	log.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := streamDI.GetServer(mono.Services()).Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "error stopping stream server", "error", err)
	}
	if err := exchangesDI.GetManager(mono.Services()).Close(); err != nil {
		log.Error(shutdownCtx, "error closing venue connections", "error", err)
	}
	if err := healthServer.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "error stopping health server", "error", err)
	}

	return nil
}

func registerHealthChecks(server *health.Server, mono monolith.Monolith) {
	for _, venue := range []string{"hyperliquid", "lighter"} {
		venue := venue
		server.RegisterCheck(venue, func(ctx context.Context) (bool, string) {
			stats := exchangesDI.GetManager(mono.Services()).Stats()
			s := stats[venue]
			if !s.Connected {
				return false, "disconnected"
			}
			return true, fmt.Sprintf("%d messages received", s.MessagesReceived)
		})
	}
}
