package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/config"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	symbols []string
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append(f.symbols, symbol)
	return nil
}

func testBroadcastConfig() *config.BroadcastConfig {
	return &config.BroadcastConfig{
		// Slow cadence keeps the loop quiet during tick path assertions.
		FrequencyHz:           0.1,
		PriceHistorySeconds:   3600,
		LiquiditySizes:        []float64{1000, 5000},
		ImmediatePriceUpdates: true,
	}
}

func testMarketsConfig() *config.MarketsConfig {
	return &config.MarketsConfig{
		AvailableAssets:  []string{"ETH", "BTC", "SOL"},
		LighterMarketMap: map[string]int{"ETH": 0, "BTC": 1, "SOL": 2},
		DepthLevels:      20,
	}
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *mdapp.Store, *Hub, *fakeSubscriber) {
	t.Helper()

	store, err := mdapp.NewStore(testLogger(), []float64{1000, 5000}, 3600)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)

	hub := startHub(t)
	sub := &fakeSubscriber{}
	b := NewBroadcaster(testLogger(), store, testMarketsConfig(), testBroadcastConfig(), hub, sub)
	return b, store, hub, sub
}

func applyBook(store *mdapp.Store, venue domain.Venue, market string, bidPx, askPx, ts float64) {
	store.Apply(context.Background(), mdapp.BookUpdate{
		Venue:      venue,
		Market:     market,
		Bids:       []domain.Level{{Price: bidPx, Size: 10}},
		Asks:       []domain.Level{{Price: askPx, Size: 10}},
		Timestamp:  ts,
		IsSnapshot: true,
	})
}

func frameType(t *testing.T, frame []byte) string {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return head.Type
}

func TestBroadcaster_CadencePairPerMarket(t *testing.T) {
	b, store, hub, _ := newTestBroadcaster(t)

	applyBook(store, domain.VenueHyperliquid, "ETH", 100, 101, 1)
	applyBook(store, domain.VenueLighter, "market_0", 100, 101, 1)

	ethClient := registerClient(t, hub, "ETH")
	btcClient := registerClient(t, hub, "BTC")

	b.broadcastAll(context.Background())

	// One book frame and one metrics frame per market the symbol maps to.
	types := map[string]int{}
	for i := 0; i < 4; i++ {
		types[frameType(t, recvFrame(t, ethClient))]++
	}
	if types[MsgTypeOrderbookUpdate] != 2 || types[MsgTypeLiquidityMetrics] != 2 {
		t.Errorf("unexpected frame mix %v", types)
	}
	assertNoFrame(t, ethClient)
	assertNoFrame(t, btcClient)
}

func TestBroadcaster_OrderbookFrameShape(t *testing.T) {
	b, store, hub, _ := newTestBroadcaster(t)

	applyBook(store, domain.VenueHyperliquid, "ETH", 100, 101, 7)
	client := registerClient(t, hub, "ETH")

	b.broadcastAll(context.Background())

	var book OrderbookUpdateMsg
	if err := json.Unmarshal(recvFrame(t, client), &book); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if book.Type != MsgTypeOrderbookUpdate || book.Exchange != "hyperliquid" || book.Market != "ETH" {
		t.Errorf("unexpected header %+v", book)
	}
	if book.Mid == nil || *book.Mid != 100.5 {
		t.Errorf("expected mid 100.5, got %v", book.Mid)
	}
	if book.Timestamp != 7 {
		t.Errorf("expected timestamp 7, got %v", book.Timestamp)
	}

	var metrics LiquidityMetricsMsg
	if err := json.Unmarshal(recvFrame(t, client), &metrics); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}
	if metrics.Type != MsgTypeLiquidityMetrics {
		t.Fatalf("expected metrics frame, got %q", metrics.Type)
	}
	m, ok := metrics.Metrics["1000"]
	if !ok {
		t.Fatal("missing ladder key 1000")
	}
	if m.BuyCost != 1000 || m.BuyAvgPrice != 101 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestBroadcaster_TickPath(t *testing.T) {
	b, store, hub, _ := newTestBroadcaster(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b.Start(ctx)
	client := registerClient(t, hub, "BTC")

	applyBook(store, domain.VenueHyperliquid, "BTC", 100, 101, 1)

	var tick PriceUpdateMsg
	if err := json.Unmarshal(recvFrame(t, client), &tick); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tick.Type != MsgTypePriceUpdate || tick.Exchange != "hyperliquid" || tick.Market != "BTC" {
		t.Errorf("unexpected tick %+v", tick)
	}
	if tick.Price != 100.5 {
		t.Errorf("expected price 100.5, got %v", tick.Price)
	}

	// Same mid again: no frame.
	applyBook(store, domain.VenueHyperliquid, "BTC", 100, 101, 2)
	assertNoFrame(t, client)

	// Changed mid: exactly one frame.
	applyBook(store, domain.VenueHyperliquid, "BTC", 100, 102, 3)
	if err := json.Unmarshal(recvFrame(t, client), &tick); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tick.Price != 101 {
		t.Errorf("expected price 101, got %v", tick.Price)
	}
	assertNoFrame(t, client)
}

func TestBroadcaster_InitialEmissionOnSubscribe(t *testing.T) {
	b, store, hub, sub := newTestBroadcaster(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b.Start(ctx)
	applyBook(store, domain.VenueHyperliquid, "ETH", 100, 101, 1)
	// Let the update's own tick drain before anyone subscribes.
	time.Sleep(50 * time.Millisecond)

	client := registerClient(t, hub)
	client.handleFrame(ctx, []byte(`{"action":"subscribe","markets":["ETH"]}`))

	sub.mu.Lock()
	requested := append([]string(nil), sub.symbols...)
	sub.mu.Unlock()
	if len(requested) != 1 || requested[0] != "ETH" {
		t.Errorf("expected upstream subscribe for ETH, got %v", requested)
	}

	if got := frameType(t, recvFrame(t, client)); got != MsgTypeOrderbookUpdate {
		t.Errorf("expected orderbook frame first, got %q", got)
	}
	if got := frameType(t, recvFrame(t, client)); got != MsgTypeLiquidityMetrics {
		t.Errorf("expected metrics frame second, got %q", got)
	}
	// No lighter state exists yet, so nothing else arrives.
	assertNoFrame(t, client)
}

func TestBroadcaster_NoFramesWithoutState(t *testing.T) {
	b, _, hub, _ := newTestBroadcaster(t)

	client := registerClient(t, hub, "ETH")
	b.broadcastAll(context.Background())
	assertNoFrame(t, client)
}

func TestSymbolForKey(t *testing.T) {
	markets := testMarketsConfig()

	tests := []struct {
		name string
		key  mdapp.Key
		want string
		ok   bool
	}{
		{"hyperliquid", mdapp.Key{Venue: domain.VenueHyperliquid, Market: "ETH"}, "ETH", true},
		{"lighter mapped", mdapp.Key{Venue: domain.VenueLighter, Market: "market_1"}, "BTC", true},
		{"lighter unmapped", mdapp.Key{Venue: domain.VenueLighter, Market: "market_9"}, "", false},
		{"lighter malformed", mdapp.Key{Venue: domain.VenueLighter, Market: "bogus"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SymbolForKey(tt.key, markets)
			if ok != tt.ok || got != tt.want {
				t.Errorf("expected (%q,%v), got (%q,%v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}
