// Package di contains dependency injection tokens for the stream context.
package di

import (
	"github.com/dexagg/orderbook-aggregator/business/stream/app"
	"github.com/dexagg/orderbook-aggregator/business/stream/infra"
	"github.com/dexagg/orderbook-aggregator/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Server = di.NewToken[*infra.Server]("stream.Server")
)

// Private dependency tokens - internal to stream module
var (
	Hub         = di.NewToken[*app.Hub]("stream:hub")
	Broadcaster = di.NewToken[*app.Broadcaster]("stream:broadcaster")
)

// Helper functions for type-safe access
func GetServer(c di.ServiceRegistry) *infra.Server {
	return di.GetToken(c, Server)
}

func GetHub(c di.ServiceRegistry) *app.Hub {
	return di.GetToken(c, Hub)
}

func GetBroadcaster(c di.ServiceRegistry) *app.Broadcaster {
	return di.GetToken(c, Broadcaster)
}
