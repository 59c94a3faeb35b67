// Package app contains application services and port definitions for the
// exchanges context.
package app

import (
	"context"

	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/lighter"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
)

// Sink receives parsed book updates. The market data store implements it.
type Sink interface {
	Apply(ctx context.Context, upd mdapp.BookUpdate)
}

// HyperliquidFeed is the venue H WebSocket feed, subscribed per coin.
type HyperliquidFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, coin string) error
	Unsubscribe(ctx context.Context, coin string) error
	IsConnected() bool
	Close() error
}

// LighterFeed is the venue L WebSocket feed, subscribed per market index.
type LighterFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, marketIndex int) error
	Unsubscribe(ctx context.Context, marketIndex int) error
	IsConnected() bool
	Close() error
}

// SnapshotFetcher fetches full Lighter books over REST. The batch variant
// fetches concurrently and omits markets whose fetch failed.
type SnapshotFetcher interface {
	GetOrderBook(ctx context.Context, marketIndex, depth int) (*lighter.BookSnapshot, error)
	GetMultipleOrderBooks(ctx context.Context, marketIndexes []int, depth int) map[int]*lighter.BookSnapshot
}
