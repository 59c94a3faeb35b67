package domain

// Snapshot is a materialized view of a book at a timestamp: bids sorted
// descending, asks ascending, plus the derived mid, spread, and spread in
// basis points. The derived values are nil when either side is empty.
type Snapshot struct {
	Venue     Venue
	Market    string
	Bids      []Level
	Asks      []Level
	Mid       *float64
	Spread    *float64
	SpreadBps *float64
	Timestamp float64
}

// NewSnapshot materializes a snapshot from the book's current state.
func NewSnapshot(venue Venue, market string, book *Book, timestamp float64) *Snapshot {
	s := &Snapshot{
		Venue:     venue,
		Market:    market,
		Bids:      book.SortedBids(),
		Asks:      book.SortedAsks(),
		Timestamp: timestamp,
	}

	if len(s.Bids) > 0 && len(s.Asks) > 0 {
		bestBid := s.Bids[0].Price
		bestAsk := s.Asks[0].Price
		mid := (bestBid + bestAsk) / 2
		spread := bestAsk - bestBid
		s.Mid = &mid
		s.Spread = &spread
		if mid > 0 {
			bps := spread / mid * 10000
			s.SpreadBps = &bps
		}
	}

	return s
}

// TopLevels returns up to n levels per side.
func (s *Snapshot) TopLevels(n int) (bids, asks []Level) {
	bids = s.Bids
	asks = s.Asks
	if len(bids) > n {
		bids = bids[:n]
	}
	if len(asks) > n {
		asks = asks[:n]
	}
	return bids, asks
}
