// Package exchanges implements the venue connectivity bounded context.
package exchanges

import (
	"context"
	"time"

	"github.com/dexagg/orderbook-aggregator/business/exchanges/app"
	exchangesDI "github.com/dexagg/orderbook-aggregator/business/exchanges/di"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/hyperliquid"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/lighter"
	marketdataDI "github.com/dexagg/orderbook-aggregator/business/marketdata/di"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/di"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/monolith"
)

// Module implements the exchanges bounded context.
type Module struct{}

// RegisterServices registers all exchange services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, exchangesDI.HyperliquidClient, func(sr di.ServiceRegistry) *hyperliquid.Client {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		clientCfg := hyperliquid.DefaultClientConfig()
		clientCfg.WebSocketURL = cfg.Hyperliquid.WebSocketURL
		clientCfg.NLevels = cfg.Markets.DepthLevels

		client, err := hyperliquid.NewClient(clientCfg, log)
		if err != nil {
			panic("failed to create hyperliquid client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, exchangesDI.LighterClient, func(sr di.ServiceRegistry) *lighter.Client {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		clientCfg := lighter.DefaultClientConfig()
		clientCfg.WebSocketURL = cfg.Lighter.WebSocketURL

		client, err := lighter.NewClient(clientCfg, log)
		if err != nil {
			panic("failed to create lighter client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, exchangesDI.LighterHTTPClient, func(sr di.ServiceRegistry) *lighter.HTTPClient {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		client, err := lighter.NewHTTPClient(lighter.HTTPClientConfig{
			BaseURL:           cfg.Lighter.RESTURL,
			Timeout:           cfg.Lighter.RequestTimeout,
			RequestsPerMinute: cfg.Lighter.RequestsPerMinute,
		}, log)
		if err != nil {
			panic("failed to create lighter HTTP client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, exchangesDI.Manager, func(sr di.ServiceRegistry) *app.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		return app.NewManager(
			log,
			app.ManagerConfig{
				Depth:              cfg.Markets.DepthLevels,
				ResnapshotInterval: cfg.Lighter.ResnapshotInterval,
			},
			&cfg.Markets,
			exchangesDI.GetHyperliquidClient(sr),
			exchangesDI.GetLighterClient(sr),
			exchangesDI.GetLighterHTTPClient(sr),
			marketdataDI.GetStore(sr),
		)
	})

	return nil
}

// Startup connects both venues, routes their feeds into the market data
// store and subscribes the configured assets.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	cfg := mono.Config()

	manager := exchangesDI.GetManager(mono.Services())
	hlClient := exchangesDI.GetHyperliquidClient(mono.Services())
	ltClient := exchangesDI.GetLighterClient(mono.Services())

	hlClient.OnL2Book(func(data *hyperliquid.L2BookData) {
		manager.HandleHyperliquidBook(ctx, data)
	})
	ltClient.OnBook(func(marketIndex int, data *lighter.OrderBookData, isSnapshot bool) {
		manager.HandleLighterBook(ctx, marketIndex, data, isSnapshot)
	})

	connectWithRetry(ctx, log, "hyperliquid", hlClient.Connect)
	connectWithRetry(ctx, log, "lighter", ltClient.Connect)

	for _, symbol := range cfg.Markets.AvailableAssets {
		if err := manager.Subscribe(ctx, symbol); err != nil {
			log.Warn(ctx, "subscribe failed", "symbol", symbol, "error", err)
		}
	}

	manager.Start(ctx)

	log.Info(ctx, "exchanges module started", "assets", cfg.Markets.AvailableAssets)
	return nil
}

// connectWithRetry tries to connect once with a short timeout and falls back
// to a background retry loop, never blocking startup.
func connectWithRetry(ctx context.Context, log logger.LoggerInterface, name string, connect func(context.Context) error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := connect(connectCtx)
	if err == nil {
		return
	}
	log.Warn(ctx, "connection failed, will retry in background", "venue", name, "error", err)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				if err := connect(ctx); err != nil {
					log.Warn(ctx, "connection retry failed", "venue", name, "error", err)
				} else {
					log.Info(ctx, "venue connected", "venue", name)
					return
				}
			}
		}
	}()
}
