package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/hyperliquid"
	"github.com/dexagg/orderbook-aggregator/business/exchanges/infra/lighter"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

type fakeHyperFeed struct {
	mu    sync.Mutex
	coins []string
}

func (f *fakeHyperFeed) Connect(ctx context.Context) error { return nil }
func (f *fakeHyperFeed) Subscribe(ctx context.Context, coin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coins = append(f.coins, coin)
	return nil
}
func (f *fakeHyperFeed) Unsubscribe(ctx context.Context, coin string) error { return nil }
func (f *fakeHyperFeed) IsConnected() bool                                  { return true }
func (f *fakeHyperFeed) Close() error                                       { return nil }

type fakeLighterFeed struct {
	mu       sync.Mutex
	markets  []int
	sink     *recordingSink
	seededAt []int // sink updates already applied when Subscribe ran
}

func (f *fakeLighterFeed) Connect(ctx context.Context) error { return nil }
func (f *fakeLighterFeed) Subscribe(ctx context.Context, marketIndex int) error {
	seen := 0
	if f.sink != nil {
		seen = len(f.sink.all())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, marketIndex)
	f.seededAt = append(f.seededAt, seen)
	return nil
}
func (f *fakeLighterFeed) Unsubscribe(ctx context.Context, marketIndex int) error { return nil }
func (f *fakeLighterFeed) IsConnected() bool                                      { return true }
func (f *fakeLighterFeed) Close() error                                           { return nil }

type fakeRest struct {
	err        error
	calls      int
	batchCalls [][]int
	failBatch  map[int]bool // markets omitted from batch results
}

func (f *fakeRest) snapshotFor(marketIndex int) *lighter.BookSnapshot {
	return &lighter.BookSnapshot{
		MarketIndex: marketIndex,
		Bids:        []domain.Level{{Price: 100, Size: 1}},
		Asks:        []domain.Level{{Price: 101, Size: 1}},
		Timestamp:   42,
	}
}

func (f *fakeRest) GetOrderBook(ctx context.Context, marketIndex, depth int) (*lighter.BookSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshotFor(marketIndex), nil
}

func (f *fakeRest) GetMultipleOrderBooks(ctx context.Context, marketIndexes []int, depth int) map[int]*lighter.BookSnapshot {
	f.batchCalls = append(f.batchCalls, append([]int(nil), marketIndexes...))

	books := make(map[int]*lighter.BookSnapshot, len(marketIndexes))
	for _, idx := range marketIndexes {
		if f.err != nil || f.failBatch[idx] {
			continue
		}
		books[idx] = f.snapshotFor(idx)
	}
	return books
}

type recordingSink struct {
	mu      sync.Mutex
	updates []mdapp.BookUpdate
}

func (s *recordingSink) Apply(ctx context.Context, upd mdapp.BookUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
}

func (s *recordingSink) all() []mdapp.BookUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mdapp.BookUpdate(nil), s.updates...)
}

func testMarkets() *config.MarketsConfig {
	return &config.MarketsConfig{
		AvailableAssets:  []string{"ETH", "BTC", "SOL"},
		LighterMarketMap: map[string]int{"ETH": 0, "BTC": 1, "SOL": 2},
		DepthLevels:      20,
	}
}

func newTestManager(t *testing.T, rest *fakeRest) (*Manager, *fakeHyperFeed, *fakeLighterFeed, *recordingSink) {
	t.Helper()
	hyper := &fakeHyperFeed{}
	sink := &recordingSink{}
	lf := &fakeLighterFeed{sink: sink}
	log := logger.New(io.Discard, logger.LevelError, "test", nil)

	m := NewManager(log, ManagerConfig{Depth: 20}, testMarkets(), hyper, lf, rest, sink)
	return m, hyper, lf, sink
}

func TestManager_SubscribeBothVenues(t *testing.T) {
	rest := &fakeRest{}
	m, hyper, lf, sink := newTestManager(t, rest)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if len(hyper.coins) != 1 || hyper.coins[0] != "ETH" {
		t.Errorf("expected hyperliquid subscription for ETH, got %v", hyper.coins)
	}
	if len(lf.markets) != 1 || lf.markets[0] != 0 {
		t.Errorf("expected lighter subscription for market 0, got %v", lf.markets)
	}
	if rest.calls != 1 {
		t.Errorf("expected 1 snapshot fetch, got %d", rest.calls)
	}

	updates := sink.all()
	if len(updates) != 1 {
		t.Fatalf("expected 1 seeded update, got %d", len(updates))
	}
	seed := updates[0]
	if seed.Venue != domain.VenueLighter || seed.Market != "market_0" || !seed.IsSnapshot {
		t.Errorf("unexpected seed update %+v", seed)
	}
	if seed.Timestamp != 42 {
		t.Errorf("expected seed timestamp 42, got %v", seed.Timestamp)
	}
}

func TestManager_SubscribeSeedsBeforeStream(t *testing.T) {
	rest := &fakeRest{}
	m, _, lf, _ := newTestManager(t, rest)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The REST seed must land before the stream subscription opens.
	if len(lf.seededAt) != 1 || lf.seededAt[0] != 1 {
		t.Errorf("expected 1 seeded update before stream subscribe, got %v", lf.seededAt)
	}
}

func TestManager_SubscribeIdempotent(t *testing.T) {
	rest := &fakeRest{}
	m, hyper, _, _ := newTestManager(t, rest)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "BTC"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Subscribe(ctx, "BTC"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if len(hyper.coins) != 1 {
		t.Errorf("expected single venue subscription, got %v", hyper.coins)
	}
	if rest.calls != 1 {
		t.Errorf("expected single snapshot fetch, got %d", rest.calls)
	}
}

func TestManager_SubscribeUnmappedSymbol(t *testing.T) {
	rest := &fakeRest{}
	m, hyper, lf, _ := newTestManager(t, rest)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "DOGE"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if len(hyper.coins) != 1 || hyper.coins[0] != "DOGE" {
		t.Errorf("expected hyperliquid-only subscription, got %v", hyper.coins)
	}
	if len(lf.markets) != 0 {
		t.Errorf("expected no lighter subscription, got %v", lf.markets)
	}
	if rest.calls != 0 {
		t.Errorf("expected no snapshot fetch, got %d", rest.calls)
	}
}

func TestManager_SubscribeSurvivesSnapshotFailure(t *testing.T) {
	rest := &fakeRest{err: errors.New("api down")}
	m, _, lf, sink := newTestManager(t, rest)
	ctx := context.Background()

	if err := m.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe should not fail on snapshot error: %v", err)
	}

	if len(lf.markets) != 1 {
		t.Errorf("expected stream subscription despite snapshot failure, got %v", lf.markets)
	}
	if len(sink.all()) != 0 {
		t.Error("expected no seeded update on failure")
	}

	stats := m.Stats()
	if stats[string(domain.VenueLighter)].Errors == 0 {
		t.Error("expected recorded error for lighter venue")
	}
}

func TestManager_ResnapshotCycleBatchFetch(t *testing.T) {
	rest := &fakeRest{failBatch: map[int]bool{1: true}}
	m, _, _, sink := newTestManager(t, rest)
	ctx := context.Background()

	// Nothing tracked yet, so no fetch happens.
	m.resnapshotCycle(ctx)
	if len(rest.batchCalls) != 0 {
		t.Fatalf("expected no batch fetch without tracked markets, got %v", rest.batchCalls)
	}

	if err := m.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe ETH: %v", err)
	}
	if err := m.Subscribe(ctx, "BTC"); err != nil {
		t.Fatalf("subscribe BTC: %v", err)
	}
	seeded := len(sink.all())
	errsBefore := m.Stats()[string(domain.VenueLighter)].Errors

	m.resnapshotCycle(ctx)

	if len(rest.batchCalls) != 1 {
		t.Fatalf("expected 1 batch fetch, got %d", len(rest.batchCalls))
	}
	batch := append([]int(nil), rest.batchCalls[0]...)
	sort.Ints(batch)
	if len(batch) != 2 || batch[0] != 0 || batch[1] != 1 {
		t.Errorf("expected batch over markets [0 1], got %v", batch)
	}

	// Market 1 was omitted from the batch result, so only market 0 refreshes.
	updates := sink.all()[seeded:]
	if len(updates) != 1 {
		t.Fatalf("expected 1 refreshed book, got %d", len(updates))
	}
	refreshed := updates[0]
	if refreshed.Venue != domain.VenueLighter || refreshed.Market != "market_0" || !refreshed.IsSnapshot {
		t.Errorf("unexpected refresh update %+v", refreshed)
	}

	errsAfter := m.Stats()[string(domain.VenueLighter)].Errors
	if errsAfter != errsBefore+1 {
		t.Errorf("expected 1 error for the failed market, got %d", errsAfter-errsBefore)
	}
}

func TestManager_HandleHyperliquidBook(t *testing.T) {
	m, _, _, sink := newTestManager(t, &fakeRest{})

	m.HandleHyperliquidBook(context.Background(), &hyperliquid.L2BookData{
		Coin: "ETH",
		Levels: [][]hyperliquid.WsLevel{
			{{Px: "2500.0", Sz: "1.5"}, {Px: "bad", Sz: "1"}},
			{{Px: "2500.5", Sz: "2.0"}},
		},
		Time: 1700000000123,
	})

	updates := sink.all()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	upd := updates[0]
	if upd.Venue != domain.VenueHyperliquid || upd.Market != "ETH" {
		t.Errorf("unexpected routing %+v", upd)
	}
	if !upd.IsSnapshot {
		t.Error("hyperliquid messages must be snapshots")
	}
	if upd.Timestamp != 1700000000.123 {
		t.Errorf("expected timestamp 1700000000.123, got %v", upd.Timestamp)
	}
	if len(upd.Bids) != 1 {
		t.Errorf("expected unparsable bid skipped, got %d bids", len(upd.Bids))
	}

	stats := m.Stats()
	hl := stats[string(domain.VenueHyperliquid)]
	if hl.MessagesReceived != 1 {
		t.Errorf("expected 1 message counted, got %d", hl.MessagesReceived)
	}
	if hl.Errors != 1 {
		t.Errorf("expected 1 parse error counted, got %d", hl.Errors)
	}
	if hl.LastUpdate != 1700000000.123 {
		t.Errorf("expected last update 1700000000.123, got %v", hl.LastUpdate)
	}
}

func TestManager_HandleLighterBook(t *testing.T) {
	m, _, _, sink := newTestManager(t, &fakeRest{})

	m.HandleLighterBook(context.Background(), 2, &lighter.OrderBookData{
		Offset: 1700000000500,
		Bids:   []lighter.WsLevel{{Price: "150.0", Size: "10"}},
		Asks:   []lighter.WsLevel{{Price: "150.5", Size: "0"}},
	}, false)

	updates := sink.all()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	upd := updates[0]
	if upd.Venue != domain.VenueLighter || upd.Market != "market_2" {
		t.Errorf("unexpected routing %+v", upd)
	}
	if upd.IsSnapshot {
		t.Error("update messages must be diffs")
	}
	if upd.Timestamp != 1700000000.5 {
		t.Errorf("expected timestamp 1700000000.5, got %v", upd.Timestamp)
	}
	// Zero size passes through so the store removes the level.
	if len(upd.Asks) != 1 || upd.Asks[0].Size != 0 {
		t.Errorf("expected zero-size ask preserved, got %v", upd.Asks)
	}
}

func TestManager_HandleLighterBookTimestampFallback(t *testing.T) {
	m, _, _, sink := newTestManager(t, &fakeRest{})

	m.HandleLighterBook(context.Background(), 0, &lighter.OrderBookData{}, false)

	updates := sink.all()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].Timestamp <= 0 {
		t.Error("expected wall clock fallback timestamp")
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeRest{})
	ctx := context.Background()

	if err := m.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m.Unsubscribe("ETH")

	if got := m.Symbols(); len(got) != 0 {
		t.Errorf("expected no tracked symbols, got %v", got)
	}
}

func TestLighterMarketName(t *testing.T) {
	if got := LighterMarketName(3); got != "market_3" {
		t.Errorf("expected market_3, got %q", got)
	}

	idx, ok := ParseLighterMarketName("market_3")
	if !ok || idx != 3 {
		t.Errorf("expected (3,true), got (%d,%v)", idx, ok)
	}
	if _, ok := ParseLighterMarketName("ETH"); ok {
		t.Error("expected parse failure for non market name")
	}
	if _, ok := ParseLighterMarketName("market_x"); ok {
		t.Error("expected parse failure for bad index")
	}
}
