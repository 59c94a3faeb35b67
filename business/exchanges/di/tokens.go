// Package di contains dependency injection tokens for the exchanges context.
package di

import (
	"github.com/dexagg/orderbook-aggregator/business/exchanges/app"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/hyperliquid"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/lighter"
	"github.com/dexagg/orderbook-aggregator/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Manager = di.NewToken[*app.Manager]("exchanges.Manager")
)

// Private dependency tokens - internal to exchanges module
var (
	HyperliquidClient = di.NewToken[*hyperliquid.Client]("exchanges:hyperliquidClient")
	LighterClient     = di.NewToken[*lighter.Client]("exchanges:lighterClient")
	LighterHTTPClient = di.NewToken[*lighter.HTTPClient]("exchanges:lighterHTTPClient")
)

// Helper functions for type-safe access
func GetManager(c di.ServiceRegistry) *app.Manager {
	return di.GetToken(c, Manager)
}

func GetHyperliquidClient(c di.ServiceRegistry) *hyperliquid.Client {
	return di.GetToken(c, HyperliquidClient)
}

func GetLighterClient(c di.ServiceRegistry) *lighter.Client {
	return di.GetToken(c, LighterClient)
}

func GetLighterHTTPClient(c di.ServiceRegistry) *lighter.HTTPClient {
	return di.GetToken(c, LighterHTTPClient)
}
