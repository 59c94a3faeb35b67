package app

import (
	"context"
	"encoding/json"
	"time"

	exapp "github.com/dexagg/orderbook-aggregator/business/exchanges/app"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

// UpstreamSubscriber requests upstream venue subscriptions for a symbol.
// The exchanges connection manager implements it.
type UpstreamSubscriber interface {
	Subscribe(ctx context.Context, symbol string) error
}

// Broadcaster drives the three emission paths: the cadence loop, the
// immediate tick path, and the initial emission on subscribe.
type Broadcaster struct {
	log     logger.LoggerInterface
	store   *mdapp.Store
	markets *config.MarketsConfig
	hub     *Hub
	manager UpstreamSubscriber

	interval  time.Duration
	immediate bool
}

// NewBroadcaster wires the broadcaster to the store, the hub and the
// upstream manager.
func NewBroadcaster(
	log logger.LoggerInterface,
	store *mdapp.Store,
	markets *config.MarketsConfig,
	broadcast *config.BroadcastConfig,
	hub *Hub,
	manager UpstreamSubscriber,
) *Broadcaster {
	return &Broadcaster{
		log:       log,
		store:     store,
		markets:   markets,
		hub:       hub,
		manager:   manager,
		interval:  broadcast.Interval(),
		immediate: broadcast.ImmediatePriceUpdates,
	}
}

// Start hooks the tick path and the subscribe hook and launches the cadence
// loop.
func (b *Broadcaster) Start(ctx context.Context) {
	if b.immediate {
		b.store.OnPriceTick(func(tick mdapp.PriceTick) {
			b.publishTick(ctx, tick)
		})
	}
	b.hub.OnSubscribe(b.handleSubscribe)

	go b.cadenceLoop(ctx)
}

// cadenceLoop sends each subscribed client one book and one metrics frame
// per known market at the configured frequency.
func (b *Broadcaster) cadenceLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastAll(ctx)
		}
	}
}

func (b *Broadcaster) broadcastAll(ctx context.Context) {
	for _, key := range b.store.Keys() {
		symbol, ok := SymbolForKey(key, b.markets)
		if !ok {
			continue
		}

		frames := b.marketFrames(ctx, key)
		if frames == nil {
			continue
		}
		b.hub.SendToSubscribed(symbol, frames...)
	}
}

// marketFrames builds the book and metrics frames for one market, or nil if
// the market has no state yet. Snapshot and metrics come from the same store
// read, so the pair is always consistent.
func (b *Broadcaster) marketFrames(ctx context.Context, key mdapp.Key) [][]byte {
	snap, metrics := b.store.View(key)
	if snap == nil || metrics == nil {
		return nil
	}

	bookFrame, err := json.Marshal(NewOrderbookUpdate(snap))
	if err != nil {
		b.log.Error(ctx, "marshal orderbook update failed", "error", err)
		return nil
	}
	metricsFrame, err := json.Marshal(NewLiquidityMetrics(key, metrics, snap.Timestamp))
	if err != nil {
		b.log.Error(ctx, "marshal liquidity metrics failed", "error", err)
		return nil
	}
	return [][]byte{bookFrame, metricsFrame}
}

// publishTick pushes a price update to subscribed clients ahead of the next
// cadence tick.
func (b *Broadcaster) publishTick(ctx context.Context, tick mdapp.PriceTick) {
	symbol, ok := SymbolForKey(tick.Key, b.markets)
	if !ok {
		return
	}

	frame, err := json.Marshal(NewPriceUpdate(tick))
	if err != nil {
		b.log.Error(ctx, "marshal price update failed", "error", err)
		return
	}
	b.hub.SendToSubscribed(symbol, frame)
}

// handleSubscribe requests upstream subscriptions for the symbol and sends
// the subscribing client whatever state already exists.
func (b *Broadcaster) handleSubscribe(ctx context.Context, c *Client, symbol string) {
	if err := b.manager.Subscribe(ctx, symbol); err != nil {
		b.log.Warn(ctx, "upstream subscribe failed", "symbol", symbol, "error", err)
	}

	for _, key := range b.keysForSymbol(symbol) {
		if frames := b.marketFrames(ctx, key); frames != nil {
			b.hub.SendToClient(c, frames...)
		}
	}
}

// keysForSymbol lists the store keys a symbol maps to across venues.
func (b *Broadcaster) keysForSymbol(symbol string) []mdapp.Key {
	keys := []mdapp.Key{{Venue: domain.VenueHyperliquid, Market: symbol}}
	if idx, ok := b.markets.LighterMarketFor(symbol); ok {
		keys = append(keys, mdapp.Key{
			Venue:  domain.VenueLighter,
			Market: exapp.LighterMarketName(idx),
		})
	}
	return keys
}
