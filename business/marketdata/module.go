// Package marketdata implements the market data bounded context: order book
// state, liquidity metrics and price history.
package marketdata

import (
	"context"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	marketdataDI "github.com/dexagg/orderbook-aggregator/business/marketdata/di"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/di"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/monolith"
)

// Module implements the market data bounded context.
type Module struct{}

// RegisterServices registers all market data services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, marketdataDI.Store, func(sr di.ServiceRegistry) *app.Store {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		store, err := app.NewStore(log, cfg.Broadcast.LiquiditySizes, cfg.Broadcast.PriceHistorySeconds)
		if err != nil {
			panic("failed to create market data store: " + err.Error())
		}
		return store
	})

	return nil
}

// Startup initializes the market data module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	// Force store construction so venue clients find it ready.
	marketdataDI.GetStore(mono.Services())

	mono.Logger().Info(ctx, "market data module started")
	return nil
}
