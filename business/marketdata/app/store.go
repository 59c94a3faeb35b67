// Package app contains the application services of the market data context.
package app

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

const meterName = "marketdata"

// tickBufferSize bounds the queue between book writers and the tick
// dispatcher. Ticks beyond it are dropped, never blocking a writer.
const tickBufferSize = 1024

// Key identifies one order book.
type Key struct {
	Venue  domain.Venue
	Market string
}

// BookUpdate is one snapshot or diff delivered by a venue client.
type BookUpdate struct {
	Venue      domain.Venue
	Market     string
	Bids       []domain.Level
	Asks       []domain.Level
	Timestamp  float64
	IsSnapshot bool
}

// PriceTick signals that the mid price of a book changed.
type PriceTick struct {
	Key       Key
	Mid       float64
	Timestamp float64
}

// Stats summarizes store contents.
type Stats struct {
	TrackedMarkets      int     `json:"tracked_markets"`
	TotalPricePoints    int     `json:"total_price_points"`
	PriceHistorySeconds float64 `json:"price_history_seconds"`
}

// storeMetrics holds OTEL metric instruments.
type storeMetrics struct {
	updatesApplied metric.Int64Counter
	crossedBooks   metric.Int64Counter
	ticksDropped   metric.Int64Counter
}

// entry is the state of one book. Everything inside is guarded by mu, so a
// reader always observes a snapshot and its metrics from the same update.
type entry struct {
	mu      sync.Mutex
	book    *domain.Book
	snap    *domain.Snapshot
	metrics domain.LadderMetrics
	history *domain.PriceHistory

	lastMid      float64
	hasPublished bool
}

// Store holds every order book and its derived state. Updates to different
// books proceed in parallel; updates to the same book are serialized.
type Store struct {
	log            logger.LoggerInterface
	sizes          []float64
	historySeconds float64

	mu      sync.RWMutex
	entries map[Key]*entry

	tickMu sync.RWMutex
	onTick func(PriceTick)

	ticks     chan PriceTick
	done      chan struct{}
	closeOnce sync.Once

	metrics *storeMetrics
}

// NewStore creates a store computing metrics for the given USD ladder and
// retaining the given seconds of price history per book.
func NewStore(log logger.LoggerInterface, sizes []float64, historySeconds float64) (*Store, error) {
	s := &Store{
		log:            log,
		sizes:          sizes,
		historySeconds: historySeconds,
		entries:        make(map[Key]*entry),
		ticks:          make(chan PriceTick, tickBufferSize),
		done:           make(chan struct{}),
	}

	if err := s.initMetrics(); err != nil {
		return nil, err
	}

	go s.dispatchTicks()

	return s, nil
}

func (s *Store) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &storeMetrics{}

	s.metrics.updatesApplied, err = meter.Int64Counter(
		"orderbook_updates_total",
		metric.WithDescription("Order book updates applied"),
	)
	if err != nil {
		return err
	}

	s.metrics.crossedBooks, err = meter.Int64Counter(
		"orderbook_crossed_total",
		metric.WithDescription("Updates that left a book crossed"),
	)
	if err != nil {
		return err
	}

	s.metrics.ticksDropped, err = meter.Int64Counter(
		"price_ticks_dropped_total",
		metric.WithDescription("Price ticks dropped due to a full dispatch queue"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OnPriceTick registers the handler invoked whenever a book's mid price
// changes. Ticks for one book are delivered in update order.
func (s *Store) OnPriceTick(handler func(PriceTick)) {
	s.tickMu.Lock()
	s.onTick = handler
	s.tickMu.Unlock()
}

// Apply folds an update into its book and rederives the snapshot, the ladder
// metrics and the price history under the same lock.
func (s *Store) Apply(ctx context.Context, upd BookUpdate) {
	key := Key{Venue: upd.Venue, Market: upd.Market}
	e := s.entry(key)

	e.mu.Lock()
	e.book.Apply(upd.Bids, upd.Asks, upd.IsSnapshot)

	if e.book.IsCrossed() {
		s.metrics.crossedBooks.Add(ctx, 1,
			metric.WithAttributes(attribute.String("venue", string(upd.Venue))))
		s.log.Warn(ctx, "crossed book",
			"venue", upd.Venue,
			"market", upd.Market,
		)
	}

	e.snap = domain.NewSnapshot(upd.Venue, upd.Market, e.book, upd.Timestamp)
	e.metrics = domain.ComputeLadder(e.snap, s.sizes)

	var tick *PriceTick
	if e.snap.Mid != nil {
		mid := *e.snap.Mid
		e.history.Append(upd.Timestamp, mid)
		if !e.hasPublished || mid != e.lastMid {
			e.lastMid = mid
			e.hasPublished = true
			tick = &PriceTick{Key: key, Mid: mid, Timestamp: upd.Timestamp}
		}
	}
	e.mu.Unlock()

	s.metrics.updatesApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", string(upd.Venue)),
		attribute.Bool("snapshot", upd.IsSnapshot),
	))

	if tick != nil {
		select {
		case s.ticks <- *tick:
		default:
			s.metrics.ticksDropped.Add(ctx, 1)
		}
	}
}

// Snapshot returns the latest snapshot for a book, or nil if none exists yet.
func (s *Store) Snapshot(key Key) *domain.Snapshot {
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Metrics returns the latest ladder metrics for a book, or nil.
func (s *Store) Metrics(key Key) domain.LadderMetrics {
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// View returns the snapshot and metrics derived from the same update, or
// (nil, nil) if the book has no state yet.
func (s *Store) View(key Key) (*domain.Snapshot, domain.LadderMetrics) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, e.metrics
}

// PriceWindow returns the price points of the last given seconds for a book.
func (s *Store) PriceWindow(key Key, seconds float64) []domain.PricePoint {
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Window(seconds)
}

// Keys lists every tracked book.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats reports aggregate store state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	st := Stats{
		TrackedMarkets:      len(entries),
		PriceHistorySeconds: s.historySeconds,
	}
	for _, e := range entries {
		e.mu.Lock()
		st.TotalPricePoints += e.history.Len()
		e.mu.Unlock()
	}
	return st
}

// Close stops the tick dispatcher. Updates applied after Close no longer
// produce ticks.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Store) entry(key Key) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &entry{
		book:    domain.NewBook(),
		history: domain.NewPriceHistory(s.historySeconds),
	}
	s.entries[key] = e
	return e
}

func (s *Store) lookup(key Key) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

// dispatchTicks delivers ticks one at a time so handlers observe, per book,
// the same order in which updates were applied.
func (s *Store) dispatchTicks() {
	for {
		select {
		case <-s.done:
			return
		case tick := <-s.ticks:
			s.tickMu.RLock()
			handler := s.onTick
			s.tickMu.RUnlock()
			if handler != nil {
				s.deliverTick(handler, tick)
			}
		}
	}
}

// deliverTick isolates the dispatcher from panics in registered handlers.
func (s *Store) deliverTick(handler func(PriceTick), tick PriceTick) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(context.Background(), "price tick handler panicked", "panic", r)
		}
	}()
	handler(tick)
}
