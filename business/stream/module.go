// Package stream implements the client-facing streaming bounded context.
package stream

import (
	"context"

	exchangesDI "github.com/dexagg/orderbook-aggregator/business/exchanges/di"
	marketdataDI "github.com/dexagg/orderbook-aggregator/business/marketdata/di"
	"github.com/dexagg/orderbook-aggregator/business/stream/app"
	streamDI "github.com/dexagg/orderbook-aggregator/business/stream/di"
	"github.com/dexagg/orderbook-aggregator/business/stream/infra"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/di"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/monolith"
)

// Version is stamped by the build.
var Version = "dev"

// Module implements the stream bounded context.
type Module struct{}

// RegisterServices registers all stream services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, streamDI.Hub, func(sr di.ServiceRegistry) *app.Hub {
		log := sr.Get("logger").(logger.LoggerInterface)

		hub, err := app.NewHub(log)
		if err != nil {
			panic("failed to create client hub: " + err.Error())
		}
		return hub
	})

	di.RegisterToken(c, streamDI.Broadcaster, func(sr di.ServiceRegistry) *app.Broadcaster {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		return app.NewBroadcaster(
			log,
			marketdataDI.GetStore(sr),
			&cfg.Markets,
			&cfg.Broadcast,
			streamDI.GetHub(sr),
			exchangesDI.GetManager(sr),
		)
	})

	di.RegisterToken(c, streamDI.Server, func(sr di.ServiceRegistry) *infra.Server {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		return infra.NewServer(
			log,
			cfg,
			Version,
			streamDI.GetHub(sr),
			marketdataDI.GetStore(sr),
			exchangesDI.GetManager(sr),
		)
	})

	return nil
}

// Startup launches the hub, the broadcaster and the HTTP server.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	services := mono.Services()

	streamDI.GetBroadcaster(services).Start(ctx)

	if err := streamDI.GetServer(services).Start(ctx); err != nil {
		return err
	}

	mono.Logger().Info(ctx, "stream module started",
		"port", mono.Config().Server.Port)
	return nil
}
