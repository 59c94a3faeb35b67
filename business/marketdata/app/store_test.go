package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

var testSizes = []float64{1000, 5000}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	s, err := NewStore(log, testSizes, 3600)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func update(venue domain.Venue, market string, bidPx, askPx float64, ts float64, snapshot bool) BookUpdate {
	return BookUpdate{
		Venue:      venue,
		Market:     market,
		Bids:       []domain.Level{{Price: bidPx, Size: 10}},
		Asks:       []domain.Level{{Price: askPx, Size: 10}},
		Timestamp:  ts,
		IsSnapshot: snapshot,
	}
}

func TestStore_ApplyDerivesConsistentView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{Venue: domain.VenueHyperliquid, Market: "ETH"}

	s.Apply(ctx, update(domain.VenueHyperliquid, "ETH", 100, 101, 1, true))

	snap, metrics := s.View(key)
	if snap == nil || metrics == nil {
		t.Fatal("expected snapshot and metrics after first update")
	}
	if snap.Mid == nil || *snap.Mid != 100.5 {
		t.Fatalf("expected mid 100.5, got %v", snap.Mid)
	}
	if _, ok := metrics["1000"]; !ok {
		t.Error("expected ladder entry for 1000")
	}
	if !metrics["1000"].Buy.Feasible {
		t.Error("expected feasible 1000 USD buy against {101,10}")
	}
}

func TestStore_UnknownKey(t *testing.T) {
	s := newTestStore(t)
	key := Key{Venue: domain.VenueLighter, Market: "market_9"}

	if snap := s.Snapshot(key); snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
	if m := s.Metrics(key); m != nil {
		t.Errorf("expected nil metrics, got %+v", m)
	}
	if pts := s.PriceWindow(key, 60); pts != nil {
		t.Errorf("expected nil window, got %v", pts)
	}
}

func TestStore_DiffAfterSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{Venue: domain.VenueHyperliquid, Market: "BTC"}

	s.Apply(ctx, update(domain.VenueHyperliquid, "BTC", 100, 101, 1, true))
	s.Apply(ctx, BookUpdate{
		Venue:  domain.VenueHyperliquid,
		Market: "BTC",
		Bids:   []domain.Level{{Price: 100, Size: 0}, {Price: 99, Size: 5}},
		// Empty ask diff leaves asks untouched.
		Timestamp: 2,
	})

	snap := s.Snapshot(key)
	if snap == nil || snap.Mid == nil {
		t.Fatal("expected snapshot with mid")
	}
	if *snap.Mid != 100 {
		t.Errorf("expected mid 100 after bid removal, got %v", *snap.Mid)
	}
	if snap.Timestamp != 2 {
		t.Errorf("expected timestamp 2, got %v", snap.Timestamp)
	}
}

func TestStore_TickDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ticks []PriceTick
	s.OnPriceTick(func(tick PriceTick) {
		mu.Lock()
		ticks = append(ticks, tick)
		mu.Unlock()
	})

	s.Apply(ctx, update(domain.VenueHyperliquid, "ETH", 100, 101, 1, true))
	s.Apply(ctx, update(domain.VenueHyperliquid, "ETH", 100, 101, 2, true))
	s.Apply(ctx, update(domain.VenueHyperliquid, "ETH", 100, 102, 3, true))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(ticks)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 ticks, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Let any spurious duplicate drain through the dispatcher.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 2 {
		t.Fatalf("expected exactly 2 ticks, got %d", len(ticks))
	}
	if ticks[0].Mid != 100.5 || ticks[0].Timestamp != 1 {
		t.Errorf("unexpected first tick %+v", ticks[0])
	}
	if ticks[1].Mid != 101 || ticks[1].Timestamp != 3 {
		t.Errorf("unexpected second tick %+v", ticks[1])
	}
	if ticks[1].Timestamp < ticks[0].Timestamp {
		t.Error("ticks delivered out of order")
	}
}

func TestStore_ParallelKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	markets := []string{"ETH", "BTC", "SOL"}
	var wg sync.WaitGroup
	for _, market := range markets {
		wg.Add(1)
		go func(market string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Apply(ctx, update(domain.VenueHyperliquid, market, 100, 101+float64(i%3), float64(i), i == 0))
			}
		}(market)
	}
	wg.Wait()

	if got := len(s.Keys()); got != len(markets) {
		t.Errorf("expected %d keys, got %d", len(markets), got)
	}
	for _, market := range markets {
		snap := s.Snapshot(Key{Venue: domain.VenueHyperliquid, Market: market})
		if snap == nil || snap.Mid == nil {
			t.Errorf("market %s: missing snapshot", market)
		}
	}

	st := s.Stats()
	if st.TrackedMarkets != len(markets) {
		t.Errorf("expected %d tracked markets, got %d", len(markets), st.TrackedMarkets)
	}
	if st.TotalPricePoints == 0 {
		t.Error("expected price points recorded")
	}
	if st.PriceHistorySeconds != 3600 {
		t.Errorf("expected history window 3600, got %v", st.PriceHistorySeconds)
	}
}

func TestStore_PriceWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{Venue: domain.VenueLighter, Market: "market_0"}

	for i := 0; i < 10; i++ {
		s.Apply(ctx, update(domain.VenueLighter, "market_0", 100+float64(i), 101+float64(i), float64(i), false))
	}

	pts := s.PriceWindow(key, 4)
	if len(pts) != 5 {
		t.Fatalf("expected 5 points in window, got %d", len(pts))
	}
	if pts[len(pts)-1].Mid != 109.5 {
		t.Errorf("expected newest mid 109.5, got %v", pts[len(pts)-1].Mid)
	}
}
