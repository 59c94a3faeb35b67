package domain

import "sort"

// Book holds one side-indexed order book as price-to-size maps.
//
// Every stored size is strictly positive: a level with size <= 0 in an
// incoming diff removes that price. The book accepts both full snapshots and
// incremental diffs; a diff against an uninitialized book is treated as a
// snapshot.
type Book struct {
	bids        map[float64]float64
	asks        map[float64]float64
	initialized bool
}

// NewBook creates an empty, uninitialized book.
func NewBook() *Book {
	return &Book{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// Initialize replaces both sides atomically with the given levels.
// Non-positive sizes are dropped.
func (b *Book) Initialize(bids, asks []Level) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	for _, l := range bids {
		if l.Size > 0 {
			b.bids[l.Price] = l.Size
		}
	}
	for _, l := range asks {
		if l.Size > 0 {
			b.asks[l.Price] = l.Size
		}
	}
	b.initialized = true
}

// Apply applies an update. Snapshots and updates against an uninitialized
// book replace both sides; otherwise each level is an upsert, with size <= 0
// deleting the price.
func (b *Book) Apply(bids, asks []Level, isSnapshot bool) {
	if isSnapshot || !b.initialized {
		b.Initialize(bids, asks)
		return
	}
	applyDiff(b.bids, bids)
	applyDiff(b.asks, asks)
}

func applyDiff(side map[float64]float64, levels []Level) {
	for _, l := range levels {
		if l.Size <= 0 {
			delete(side, l.Price)
		} else {
			side[l.Price] = l.Size
		}
	}
}

// Initialized reports whether the book has received any snapshot.
func (b *Book) Initialized() bool {
	return b.initialized
}

// SortedBids returns bid levels in descending price order.
func (b *Book) SortedBids() []Level {
	levels := collect(b.bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// SortedAsks returns ask levels in ascending price order.
func (b *Book) SortedAsks() []Level {
	levels := collect(b.asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

func collect(side map[float64]float64) []Level {
	levels := make([]Level, 0, len(side))
	for price, size := range side {
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels
}

// HasBothSides reports whether the book is initialized with at least one
// level on each side.
func (b *Book) HasBothSides() bool {
	return b.initialized && len(b.bids) > 0 && len(b.asks) > 0
}

// IsCrossed reports whether the best bid is at or above the best ask.
// Crossed books from upstream are accepted but flagged for logging.
func (b *Book) IsCrossed() bool {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	bestBid := -1.0
	for price := range b.bids {
		if price > bestBid {
			bestBid = price
		}
	}
	bestAsk := -1.0
	for price := range b.asks {
		if bestAsk < 0 || price < bestAsk {
			bestAsk = price
		}
	}
	return bestBid >= bestAsk
}
