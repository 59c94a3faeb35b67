// Package di contains dependency injection tokens for the market data context.
package di

import (
	"github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Store = di.NewToken[*app.Store]("marketdata.Store")
)

// Helper functions for type-safe access
func GetStore(c di.ServiceRegistry) *app.Store {
	return di.GetToken(c, Store)
}
