package app

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/hyperliquid"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/lighter"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

// VenueStats describes the health of one venue connection.
type VenueStats struct {
	Connected        bool    `json:"connected"`
	LastUpdate       float64 `json:"last_update"`
	MessagesReceived int64   `json:"messages_received"`
	Errors           int64   `json:"errors"`
}

type venueCounters struct {
	lastUpdate       atomic.Uint64 // float64 bits
	messagesReceived atomic.Int64
	errors           atomic.Int64
}

func (v *venueCounters) touch(ts float64) {
	v.messagesReceived.Add(1)
	v.lastUpdate.Store(floatBits(ts))
}

// ManagerConfig holds connection manager settings.
type ManagerConfig struct {
	Depth              int // REST snapshot depth per side
	ResnapshotInterval time.Duration
}

// Manager owns both venue feeds for a process-wide set of symbols. Venue H
// streams full snapshots; venue L streams diffs reconciled against periodic
// REST snapshots.
type Manager struct {
	log     logger.LoggerInterface
	cfg     ManagerConfig
	markets *config.MarketsConfig

	hyper   HyperliquidFeed
	lighter LighterFeed
	rest    SnapshotFetcher
	sink    Sink

	mu             sync.Mutex
	symbols        map[string]struct{}
	lighterMarkets map[int]string // market index -> symbol

	hlStats venueCounters
	ltStats venueCounters

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a connection manager.
func NewManager(
	log logger.LoggerInterface,
	cfg ManagerConfig,
	markets *config.MarketsConfig,
	hyper HyperliquidFeed,
	lighterFeed LighterFeed,
	rest SnapshotFetcher,
	sink Sink,
) *Manager {
	return &Manager{
		log:            log,
		cfg:            cfg,
		markets:        markets,
		hyper:          hyper,
		lighter:        lighterFeed,
		rest:           rest,
		sink:           sink,
		symbols:        make(map[string]struct{}),
		lighterMarkets: make(map[int]string),
		done:           make(chan struct{}),
	}
}

// Start launches the periodic Lighter re-snapshot loop.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.ResnapshotInterval > 0 {
		go m.resnapshotLoop(ctx)
	}
}

// Subscribe starts tracking a symbol on every venue that lists it.
// Idempotent per symbol.
func (m *Manager) Subscribe(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if _, ok := m.symbols[symbol]; ok {
		m.mu.Unlock()
		return nil
	}
	m.symbols[symbol] = struct{}{}

	idx, hasLighter := m.markets.LighterMarketFor(symbol)
	if hasLighter {
		m.lighterMarkets[idx] = symbol
	}
	m.mu.Unlock()

	if err := m.hyper.Subscribe(ctx, symbol); err != nil {
		m.hlStats.errors.Add(1)
		return err
	}

	if !hasLighter {
		m.log.Warn(ctx, "symbol has no lighter market, tracking hyperliquid only",
			"symbol", symbol)
		return nil
	}

	// Seed the book before opening the stream so metrics exist when the
	// first diff lands. The stream alone still converges if the fetch fails.
	if err := m.seedLighterBook(ctx, idx); err != nil {
		m.log.Warn(ctx, "initial snapshot failed, relying on stream",
			"symbol", symbol,
			"market", idx,
			"error", err)
	}

	if err := m.lighter.Subscribe(ctx, idx); err != nil {
		m.ltStats.errors.Add(1)
		return err
	}

	m.log.Info(ctx, "subscribed", "symbol", symbol, "lighter_market", idx)
	return nil
}

// Unsubscribe stops tracking a symbol. Venue subscriptions stay open so other
// consumers keep receiving data.
func (m *Manager) Unsubscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, symbol)
	if idx, ok := m.markets.LighterMarketFor(symbol); ok {
		delete(m.lighterMarkets, idx)
	}
}

// Symbols lists the tracked symbols.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	return out
}

// HandleHyperliquidBook folds one l2Book message into the store. Every
// message is a full snapshot.
func (m *Manager) HandleHyperliquidBook(ctx context.Context, data *hyperliquid.L2BookData) {
	ts := data.Timestamp()
	m.hlStats.touch(ts)

	bids, bidErrs := parseWsLevels(data.Bids())
	asks, askErrs := parseWsLevels(data.Asks())
	if n := bidErrs + askErrs; n > 0 {
		m.hlStats.errors.Add(int64(n))
		m.log.Warn(ctx, "skipped unparsable levels", "venue", domain.VenueHyperliquid,
			"coin", data.Coin, "count", n)
	}

	m.sink.Apply(ctx, mdapp.BookUpdate{
		Venue:      domain.VenueHyperliquid,
		Market:     data.Coin,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  ts,
		IsSnapshot: true,
	})
}

// HandleLighterBook folds one order book message into the store.
func (m *Manager) HandleLighterBook(ctx context.Context, marketIndex int, data *lighter.OrderBookData, isSnapshot bool) {
	ts := data.Timestamp()
	if ts == 0 {
		ts = nowUnix()
	}
	m.ltStats.touch(ts)

	bids, bidErrs := parseLighterLevels(data.Bids)
	asks, askErrs := parseLighterLevels(data.Asks)
	if n := bidErrs + askErrs; n > 0 {
		m.ltStats.errors.Add(int64(n))
		m.log.Warn(ctx, "skipped unparsable levels", "venue", domain.VenueLighter,
			"market", marketIndex, "count", n)
	}

	m.sink.Apply(ctx, mdapp.BookUpdate{
		Venue:      domain.VenueLighter,
		Market:     LighterMarketName(marketIndex),
		Bids:       bids,
		Asks:       asks,
		Timestamp:  ts,
		IsSnapshot: isSnapshot,
	})
}

// Stats reports per-venue connection health.
func (m *Manager) Stats() map[string]VenueStats {
	return map[string]VenueStats{
		string(domain.VenueHyperliquid): {
			Connected:        m.hyper.IsConnected(),
			LastUpdate:       floatFromBits(m.hlStats.lastUpdate.Load()),
			MessagesReceived: m.hlStats.messagesReceived.Load(),
			Errors:           m.hlStats.errors.Load(),
		},
		string(domain.VenueLighter): {
			Connected:        m.lighter.IsConnected(),
			LastUpdate:       floatFromBits(m.ltStats.lastUpdate.Load()),
			MessagesReceived: m.ltStats.messagesReceived.Load(),
			Errors:           m.ltStats.errors.Load(),
		},
	}
}

// Close stops the re-snapshot loop and both venue connections.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	err := m.hyper.Close()
	if lErr := m.lighter.Close(); err == nil {
		err = lErr
	}
	return err
}

// seedLighterBook fetches a full REST book and applies it as a snapshot.
func (m *Manager) seedLighterBook(ctx context.Context, marketIndex int) error {
	snap, err := m.rest.GetOrderBook(ctx, marketIndex, m.cfg.Depth)
	if err != nil {
		m.ltStats.errors.Add(1)
		return err
	}

	m.applyLighterSnapshot(ctx, marketIndex, snap)
	return nil
}

// applyLighterSnapshot replaces a Lighter book with a REST snapshot.
func (m *Manager) applyLighterSnapshot(ctx context.Context, marketIndex int, snap *lighter.BookSnapshot) {
	m.sink.Apply(ctx, mdapp.BookUpdate{
		Venue:      domain.VenueLighter,
		Market:     LighterMarketName(marketIndex),
		Bids:       snap.Bids,
		Asks:       snap.Asks,
		Timestamp:  snap.Timestamp,
		IsSnapshot: true,
	})
}

// resnapshotLoop periodically refreshes every tracked Lighter book from REST
// so stream gaps cannot accumulate. A failed cycle is logged and skipped.
func (m *Manager) resnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ResnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.resnapshotCycle(ctx)
		}
	}
}

// resnapshotCycle refreshes all tracked Lighter books in one concurrent batch.
func (m *Manager) resnapshotCycle(ctx context.Context) {
	m.mu.Lock()
	markets := make([]int, 0, len(m.lighterMarkets))
	for idx := range m.lighterMarkets {
		markets = append(markets, idx)
	}
	m.mu.Unlock()

	if len(markets) == 0 {
		return
	}

	books := m.rest.GetMultipleOrderBooks(ctx, markets, m.cfg.Depth)
	for _, idx := range markets {
		snap, ok := books[idx]
		if !ok {
			m.ltStats.errors.Add(1)
			m.log.Warn(ctx, "re-snapshot failed", "market", idx)
			continue
		}
		m.applyLighterSnapshot(ctx, idx, snap)
	}
}

// LighterMarketName is the store market name for a Lighter market index.
func LighterMarketName(marketIndex int) string {
	return "market_" + strconv.Itoa(marketIndex)
}

// ParseLighterMarketName inverts LighterMarketName.
func ParseLighterMarketName(market string) (int, bool) {
	const prefix = "market_"
	if len(market) <= len(prefix) || market[:len(prefix)] != prefix {
		return 0, false
	}
	idx, err := strconv.Atoi(market[len(prefix):])
	if err != nil {
		return 0, false
	}
	return idx, true
}

func parseWsLevels(raw []hyperliquid.WsLevel) ([]domain.Level, int) {
	levels := make([]domain.Level, 0, len(raw))
	failed := 0
	for i := range raw {
		lvl, err := raw[i].Parse()
		if err != nil {
			failed++
			continue
		}
		levels = append(levels, lvl)
	}
	return levels, failed
}

func parseLighterLevels(raw []lighter.WsLevel) ([]domain.Level, int) {
	levels := make([]domain.Level, 0, len(raw))
	failed := 0
	for i := range raw {
		lvl, err := raw[i].Parse()
		if err != nil {
			failed++
			continue
		}
		levels = append(levels, lvl)
	}
	return levels, failed
}

func nowUnix() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
