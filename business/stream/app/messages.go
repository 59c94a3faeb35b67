// Package app contains the broadcaster and client hub of the stream context.
package app

import (
	exapp "github.com/dexagg/orderbook-aggregator/business/exchanges/app"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/config"
)

// Client actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Server message types
const (
	MsgTypeOrderbookUpdate  = "orderbook_update"
	MsgTypeLiquidityMetrics = "liquidity_metrics"
	MsgTypePriceUpdate      = "price_update"
	MsgTypePing             = "ping"
	MsgTypePong             = "pong"
)

// topLevelsPerSide caps the levels sent per book side.
const topLevelsPerSide = 20

// ClientRequest is an inbound client frame. Pings arrive either as an action
// or as a bare type field.
type ClientRequest struct {
	Action  string   `json:"action"`
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
}

// IsPing reports whether the frame is a ping in either form.
func (r *ClientRequest) IsPing() bool {
	return r.Action == ActionPing || r.Type == MsgTypePing
}

// OrderbookUpdateMsg carries the top of one book to a client.
type OrderbookUpdateMsg struct {
	Type      string         `json:"type"`
	Exchange  string         `json:"exchange"`
	Market    string         `json:"market"`
	Bids      []domain.Level `json:"bids"`
	Asks      []domain.Level `json:"asks"`
	Mid       *float64       `json:"mid"`
	Spread    *float64       `json:"spread"`
	SpreadBps *float64       `json:"spread_bps"`
	Timestamp float64        `json:"timestamp"`
}

// NewOrderbookUpdate builds the wire message for a snapshot.
func NewOrderbookUpdate(snap *domain.Snapshot) OrderbookUpdateMsg {
	bids, asks := snap.TopLevels(topLevelsPerSide)
	return OrderbookUpdateMsg{
		Type:      MsgTypeOrderbookUpdate,
		Exchange:  string(snap.Venue),
		Market:    snap.Market,
		Bids:      bids,
		Asks:      asks,
		Mid:       snap.Mid,
		Spread:    snap.Spread,
		SpreadBps: snap.SpreadBps,
		Timestamp: snap.Timestamp,
	}
}

// LiquidityMetricsMsg carries the execution cost ladder to a client.
type LiquidityMetricsMsg struct {
	Type      string                              `json:"type"`
	Exchange  string                              `json:"exchange"`
	Market    string                              `json:"market"`
	Metrics   map[string]domain.ClientSizeMetrics `json:"metrics"`
	Timestamp float64                             `json:"timestamp"`
}

// NewLiquidityMetrics builds the wire message for a metrics ladder.
func NewLiquidityMetrics(key mdapp.Key, metrics domain.LadderMetrics, timestamp float64) LiquidityMetricsMsg {
	return LiquidityMetricsMsg{
		Type:      MsgTypeLiquidityMetrics,
		Exchange:  string(key.Venue),
		Market:    key.Market,
		Metrics:   metrics.ForClient(),
		Timestamp: timestamp,
	}
}

// PriceUpdateMsg carries one mid-price change to a client.
type PriceUpdateMsg struct {
	Type      string  `json:"type"`
	Exchange  string  `json:"exchange"`
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"`
}

// NewPriceUpdate builds the wire message for a price tick.
func NewPriceUpdate(tick mdapp.PriceTick) PriceUpdateMsg {
	return PriceUpdateMsg{
		Type:      MsgTypePriceUpdate,
		Exchange:  string(tick.Key.Venue),
		Market:    tick.Key.Market,
		Price:     tick.Mid,
		Timestamp: tick.Timestamp,
	}
}

// PongMsg is the reply to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// SymbolForKey maps a store key back to the symbolic asset name clients
// subscribe with. Hyperliquid markets are the symbol itself; Lighter markets
// resolve through the configured market map.
func SymbolForKey(key mdapp.Key, markets *config.MarketsConfig) (string, bool) {
	switch key.Venue {
	case domain.VenueHyperliquid:
		return key.Market, true
	case domain.VenueLighter:
		idx, ok := exapp.ParseLighterMarketName(key.Market)
		if !ok {
			return "", false
		}
		return markets.SymbolForLighterMarket(idx)
	}
	return "", false
}
