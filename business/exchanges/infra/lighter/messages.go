// Package lighter implements the Lighter WebSocket feed and REST API.
package lighter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
)

// Message types
const (
	MsgTypePing            = "ping"
	MsgTypePong            = "pong"
	MsgTypeConnected       = "connected"
	MsgTypeSubscribed      = "subscribed/order_book"
	MsgTypeUpdateOrderBook = "update/order_book"
	MsgTypeOrderBook       = "order_book"
)

// WSRequest is a WebSocket subscribe/unsubscribe request.
type WSRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// WSMessage is the base wrapper for all feed messages.
type WSMessage struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	OrderBook json.RawMessage `json:"order_book"`
}

// WsLevel is one price level on the WebSocket feed.
type WsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Parse converts the wire level to a domain level.
func (l *WsLevel) Parse() (domain.Level, error) {
	return domain.ParseLevel(l.Price, l.Size)
}

// OrderBookData is the order book payload of a feed message. Offset is a
// monotonically increasing sequence value carrying an epoch-milliseconds
// timestamp.
type OrderBookData struct {
	Code   int       `json:"code"`
	Offset int64     `json:"offset"`
	Bids   []WsLevel `json:"bids"`
	Asks   []WsLevel `json:"asks"`
}

// Timestamp derives an epoch-seconds timestamp from the offset, or 0 when the
// offset is absent.
func (d *OrderBookData) Timestamp() float64 {
	if d.Offset <= 0 {
		return 0
	}
	return float64(d.Offset) / 1000
}

// BookChannel returns the subscription channel name for a market index.
func BookChannel(marketIndex int) string {
	return "order_book/" + strconv.Itoa(marketIndex)
}

// ParseBookChannel extracts the market index from a feed channel name.
// Responses use "order_book:<idx>" while requests use "order_book/<idx>";
// both are accepted.
func ParseBookChannel(channel string) (int, error) {
	rest, ok := strings.CutPrefix(channel, "order_book:")
	if !ok {
		rest, ok = strings.CutPrefix(channel, "order_book/")
	}
	if !ok {
		return 0, fmt.Errorf("channel %q is not an order book channel", channel)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("channel %q has no market index: %w", channel, err)
	}
	return idx, nil
}

// SubscribeRequest builds an order book subscription for a market index.
func SubscribeRequest(marketIndex int) WSRequest {
	return WSRequest{Type: "subscribe", Channel: BookChannel(marketIndex)}
}

// UnsubscribeRequest builds an order book unsubscription for a market index.
func UnsubscribeRequest(marketIndex int) WSRequest {
	return WSRequest{Type: "unsubscribe", Channel: BookChannel(marketIndex)}
}

// PongMessage is the reply to a feed ping.
var PongMessage = WSRequest{Type: MsgTypePong}
