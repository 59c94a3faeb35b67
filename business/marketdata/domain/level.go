// Package domain contains the order book model and derived market metrics.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Venue identifies a configured upstream exchange.
type Venue string

const (
	VenueHyperliquid Venue = "hyperliquid"
	VenueLighter     Venue = "lighter"
)

// Level is a (price, aggregate size) pair on one side of a book.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// ParseLevel parses a level from wire strings. Venues send prices and sizes
// as strings at full precision; input is never assumed to be numeric.
func ParseLevel(price, size string) (Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Level{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return Level{}, fmt.Errorf("parse size %q: %w", size, err)
	}
	return Level{Price: p.InexactFloat64(), Size: s.InexactFloat64()}, nil
}
