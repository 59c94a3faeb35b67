package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

const hubMeterName = "stream"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one connected WebSocket consumer with its subscription set.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	symbols map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		symbols: make(map[string]struct{}),
	}
}

// subscribedTo reports whether the client subscribed to the symbol.
func (c *Client) subscribedTo(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.symbols[symbol]
	return ok
}

func (c *Client) addSymbol(symbol string) {
	c.mu.Lock()
	c.symbols[symbol] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeSymbol(symbol string) {
	c.mu.Lock()
	delete(c.symbols, symbol)
	c.mu.Unlock()
}

// enqueue hands a frame to the client's writer. A full buffer marks the
// client as too slow; it gets disconnected rather than stalling the sender.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

type hubMetrics struct {
	clientsConnected metric.Int64UpDownCounter
	framesSent       metric.Int64Counter
	clientsDropped   metric.Int64Counter
}

// Hub owns the client registry. Registration, removal and fanout all go
// through the hub so per-client failures never affect other clients.
type Hub struct {
	log logger.LoggerInterface

	mu      sync.RWMutex
	clients map[*Client]bool

	metrics hubMetrics

	// onSubscribe runs for every symbol a client subscribes to, after the
	// symbol is added to the client's set.
	onSubscribe func(ctx context.Context, c *Client, symbol string)
}

// NewHub creates a client hub.
func NewHub(log logger.LoggerInterface) (*Hub, error) {
	h := &Hub{
		log:     log,
		clients: make(map[*Client]bool),
	}
	if err := h.initMetrics(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hub) initMetrics() error {
	meter := otel.Meter(hubMeterName)
	var err error

	h.metrics.clientsConnected, err = meter.Int64UpDownCounter(
		"stream.clients.connected",
		metric.WithDescription("Currently connected WebSocket clients"),
	)
	if err != nil {
		return err
	}

	h.metrics.framesSent, err = meter.Int64Counter(
		"stream.frames.sent",
		metric.WithDescription("Frames enqueued to client send buffers"),
	)
	if err != nil {
		return err
	}

	h.metrics.clientsDropped, err = meter.Int64Counter(
		"stream.clients.dropped",
		metric.WithDescription("Clients disconnected for full send buffers"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OnSubscribe registers the per-symbol subscribe hook.
func (h *Hub) OnSubscribe(fn func(ctx context.Context, c *Client, symbol string)) {
	h.onSubscribe = fn
}

func (h *Hub) add(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.clientsConnected.Add(ctx, 1)
	h.log.Info(ctx, "client connected", "clients", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToSubscribed delivers frames to every client subscribed to the symbol.
// Clients whose buffers are full are disconnected. Enqueueing happens under
// the registry read lock so a send can never race a channel close.
func (h *Hub) SendToSubscribed(symbol string, frames ...[]byte) {
	var slow []*Client
	var sent int64

	h.mu.RLock()
	for c := range h.clients {
		if !c.subscribedTo(symbol) {
			continue
		}
		for _, frame := range frames {
			if !c.enqueue(frame) {
				slow = append(slow, c)
				break
			}
			sent++
		}
	}
	h.mu.RUnlock()

	if sent > 0 {
		h.metrics.framesSent.Add(context.Background(), sent)
	}
	for _, c := range slow {
		h.metrics.clientsDropped.Add(context.Background(), 1)
		h.drop(c)
	}
}

// SendToClient delivers frames to one client, disconnecting it on a full
// buffer.
func (h *Hub) SendToClient(c *Client, frames ...[]byte) {
	full := false
	var sent int64

	h.mu.RLock()
	if h.clients[c] {
		for _, frame := range frames {
			if !c.enqueue(frame) {
				full = true
				break
			}
			sent++
		}
	}
	h.mu.RUnlock()

	if sent > 0 {
		h.metrics.framesSent.Add(context.Background(), sent)
	}
	if full {
		h.metrics.clientsDropped.Add(context.Background(), 1)
		h.drop(c)
	}
}

// drop removes a client and closes its send channel. Idempotent; both the
// read pump and the fanout paths may call it.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.metrics.clientsConnected.Add(context.Background(), -1)
	}
}

// HandleConnection registers an upgraded connection and starts its pumps.
// It returns immediately; the pumps own the connection from here.
func (h *Hub) HandleConnection(ctx context.Context, conn *websocket.Conn) *Client {
	client := newClient(h, conn)
	h.add(ctx, client)

	go client.writePump()
	go client.readPump(ctx)

	return client
}

// writePump serializes all writes to the connection and emits heartbeat
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames and applies subscription changes.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn(ctx, "websocket read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	// Bare text heartbeats from simple clients.
	switch string(data) {
	case "ping":
		c.sendPong()
		return
	case "pong":
		return
	}

	var req ClientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.hub.log.Debug(ctx, "unparsable client frame", "error", err)
		return
	}

	switch {
	case req.IsPing():
		c.sendPong()

	case req.Type == MsgTypePong:
		// Heartbeat reply, nothing to do.

	case req.Action == ActionSubscribe:
		for _, symbol := range req.Markets {
			c.addSymbol(symbol)
			if c.hub.onSubscribe != nil {
				c.hub.onSubscribe(ctx, c, symbol)
			}
		}

	case req.Action == ActionUnsubscribe:
		for _, symbol := range req.Markets {
			c.removeSymbol(symbol)
		}

	default:
		c.hub.log.Debug(ctx, "unknown client action", "action", req.Action)
	}
}

func (c *Client) sendPong() {
	data, err := json.Marshal(PongMsg{Type: MsgTypePong})
	if err != nil {
		return
	}
	c.hub.SendToClient(c, data)
}
