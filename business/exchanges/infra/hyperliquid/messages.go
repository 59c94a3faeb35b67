// Package hyperliquid implements the Hyperliquid WebSocket order book feed.
package hyperliquid

import (
	"encoding/json"
	"fmt"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
)

// Channel names
const (
	ChannelL2Book               = "l2Book"
	ChannelSubscriptionResponse = "subscriptionResponse"
	ChannelError                = "error"
)

// Subscription describes one feed subscription.
type Subscription struct {
	Type    string `json:"type"`
	Coin    string `json:"coin"`
	NLevels int    `json:"nLevels,omitempty"`
}

// WSRequest is a WebSocket subscribe/unsubscribe request.
type WSRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// WSMessage is the base wrapper for all feed messages.
type WSMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WsLevel is one price level. The feed encodes levels either as an object
// {"px":"...","sz":"...","n":1} or as an array ["px","sz",n].
type WsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// UnmarshalJSON accepts both the object and the array encoding.
func (l *WsLevel) UnmarshalJSON(data []byte) error {
	type plain WsLevel
	var obj plain
	if err := json.Unmarshal(data, &obj); err == nil {
		*l = WsLevel(obj)
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("level is neither object nor array: %w", err)
	}
	if len(arr) < 2 {
		return fmt.Errorf("level array has %d elements, want at least 2", len(arr))
	}
	if err := json.Unmarshal(arr[0], &l.Px); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[1], &l.Sz); err != nil {
		return err
	}
	if len(arr) > 2 {
		if err := json.Unmarshal(arr[2], &l.N); err != nil {
			return err
		}
	}
	return nil
}

// Parse converts the wire level to a domain level.
func (l *WsLevel) Parse() (domain.Level, error) {
	return domain.ParseLevel(l.Px, l.Sz)
}

// L2BookData is the payload of an l2Book message. Levels holds the bid side
// first, the ask side second.
type L2BookData struct {
	Coin   string      `json:"coin"`
	Levels [][]WsLevel `json:"levels"`
	Time   int64       `json:"time"` // ms
}

// Bids returns the bid side, or nil if absent.
func (d *L2BookData) Bids() []WsLevel {
	if len(d.Levels) < 1 {
		return nil
	}
	return d.Levels[0]
}

// Asks returns the ask side, or nil if absent.
func (d *L2BookData) Asks() []WsLevel {
	if len(d.Levels) < 2 {
		return nil
	}
	return d.Levels[1]
}

// Timestamp returns the book time in epoch seconds.
func (d *L2BookData) Timestamp() float64 {
	return float64(d.Time) / 1000
}

// SubscribeRequest builds an l2Book subscription for a coin.
func SubscribeRequest(coin string, nLevels int) WSRequest {
	return WSRequest{
		Method: "subscribe",
		Subscription: Subscription{
			Type:    ChannelL2Book,
			Coin:    coin,
			NLevels: nLevels,
		},
	}
}

// UnsubscribeRequest builds an l2Book unsubscription for a coin.
func UnsubscribeRequest(coin string, nLevels int) WSRequest {
	return WSRequest{
		Method: "unsubscribe",
		Subscription: Subscription{
			Type:    ChannelL2Book,
			Coin:    coin,
			NLevels: nLevels,
		},
	}
}
