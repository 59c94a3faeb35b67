package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexagg/orderbook-aggregator/internal/apperror"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/wsconn"
)

const (
	tracerName = "lighter"
	meterName  = "lighter"

	// Lighter public endpoints
	BaseWSURL  = "wss://mainnet.zklighter.elliot.ai/stream"
	BaseAPIURL = "https://mainnet.zklighter.elliot.ai"
)

// ClientConfig holds configuration for the Lighter WebSocket client.
type ClientConfig struct {
	WebSocketURL string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WebSocketURL: BaseWSURL,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// clientMetrics holds OTEL metric instruments.
type clientMetrics struct {
	messagesReceived metric.Int64Counter
	bookUpdates      metric.Int64Counter
	subscriptions    metric.Int64UpDownCounter
	parseErrors      metric.Int64Counter
	reconnects       metric.Int64Counter
}

// BookHandler receives order book messages. isSnapshot is true only for the
// full book sent on subscription; update messages carry diffs.
type BookHandler func(marketIndex int, data *OrderBookData, isSnapshot bool)

// Client is a Lighter WebSocket client.
type Client struct {
	config ClientConfig
	logger logger.LoggerInterface

	conn   *wsconn.Client
	connMu sync.RWMutex

	onBook     BookHandler
	handlersMu sync.RWMutex

	subscriptions map[int]struct{}
	subsMu        sync.RWMutex

	tracer  trace.Tracer
	metrics *clientMetrics

	running atomic.Bool
}

// NewClient creates a new Lighter WebSocket client.
func NewClient(cfg ClientConfig, log logger.LoggerInterface) (*Client, error) {
	c := &Client{
		config:        cfg,
		logger:        log,
		subscriptions: make(map[int]struct{}),
		tracer:        otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.messagesReceived, err = meter.Int64Counter(
		"lighter_messages_total",
		metric.WithDescription("Total messages received"),
	)
	if err != nil {
		return err
	}

	c.metrics.bookUpdates, err = meter.Int64Counter(
		"lighter_book_updates_total",
		metric.WithDescription("Total order book messages received"),
	)
	if err != nil {
		return err
	}

	c.metrics.subscriptions, err = meter.Int64UpDownCounter(
		"lighter_subscriptions",
		metric.WithDescription("Active market subscriptions"),
	)
	if err != nil {
		return err
	}

	c.metrics.parseErrors, err = meter.Int64Counter(
		"lighter_parse_errors_total",
		metric.WithDescription("Message parse errors"),
	)
	if err != nil {
		return err
	}

	c.metrics.reconnects, err = meter.Int64Counter(
		"lighter_reconnects_total",
		metric.WithDescription("Reconnections"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OnBook registers the handler for order book messages.
func (c *Client) OnBook(handler BookHandler) {
	c.handlersMu.Lock()
	c.onBook = handler
	c.handlersMu.Unlock()
}

// Connect establishes the WebSocket connection. Subscriptions added before
// Connect are sent once the connection is up.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "lighter.connect",
		trace.WithAttributes(attribute.String("url", c.config.WebSocketURL)),
	)
	defer span.End()

	wsCfg := wsconn.DefaultConfig(c.config.WebSocketURL, "lighter")
	wsCfg.ReadTimeout = c.config.ReadTimeout
	wsCfg.WriteTimeout = c.config.WriteTimeout

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return apperror.New(apperror.CodeLighterConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to create wsconn"))
	}

	conn.OnMessage(c.handleMessage)
	conn.OnStateChange(func(state wsconn.State, cause error) {
		if state != wsconn.StateConnected {
			return
		}
		c.metrics.reconnects.Add(context.Background(), 1)
		go c.resubscribeAll(context.Background())
	})

	if err := conn.ConnectWithRetry(ctx); err != nil {
		return apperror.New(apperror.CodeLighterConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect to Lighter"))
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.running.Store(true)

	if err := c.resubscribeAll(ctx); err != nil {
		c.logger.Warn(ctx, "initial subscribe failed", "error", err)
	}

	c.logger.Info(ctx, "lighter client connected", "url", c.config.WebSocketURL)
	return nil
}

// Subscribe subscribes to a market's order book. Idempotent per market.
func (c *Client) Subscribe(ctx context.Context, marketIndex int) error {
	c.subsMu.Lock()
	if _, ok := c.subscriptions[marketIndex]; ok {
		c.subsMu.Unlock()
		return nil
	}
	c.subscriptions[marketIndex] = struct{}{}
	c.subsMu.Unlock()

	c.metrics.subscriptions.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("market", marketIndex)))

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil
	}

	if err := conn.SendJSON(ctx, SubscribeRequest(marketIndex)); err != nil {
		return apperror.New(apperror.CodeLighterSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext("market "+strconv.Itoa(marketIndex)))
	}
	return nil
}

// Unsubscribe stops the market's order book feed.
func (c *Client) Unsubscribe(ctx context.Context, marketIndex int) error {
	c.subsMu.Lock()
	if _, ok := c.subscriptions[marketIndex]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subscriptions, marketIndex)
	c.subsMu.Unlock()

	c.metrics.subscriptions.Add(ctx, -1,
		metric.WithAttributes(attribute.Int("market", marketIndex)))

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil
	}

	return conn.SendJSON(ctx, UnsubscribeRequest(marketIndex))
}

func (c *Client) resubscribeAll(ctx context.Context) error {
	c.subsMu.RLock()
	markets := make([]int, 0, len(c.subscriptions))
	for idx := range c.subscriptions {
		markets = append(markets, idx)
	}
	c.subsMu.RUnlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil
	}

	for _, idx := range markets {
		if err := conn.SendJSON(ctx, SubscribeRequest(idx)); err != nil {
			return apperror.New(apperror.CodeLighterSubscribeFailed,
				apperror.WithCause(err),
				apperror.WithContext("market "+strconv.Itoa(idx)))
		}
	}

	if len(markets) > 0 {
		c.logger.Info(ctx, "lighter subscriptions sent", "markets", markets)
	}
	return nil
}

// handleMessage processes incoming WebSocket messages.
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	c.metrics.messagesReceived.Add(ctx, 1)

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.metrics.parseErrors.Add(ctx, 1)
		c.logger.Debug(ctx, "failed to parse message", "error", err)
		return
	}

	switch msg.Type {
	case MsgTypePing:
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn != nil {
			if err := conn.SendJSON(ctx, PongMessage); err != nil {
				c.logger.Warn(ctx, "pong failed", "error", err)
			}
		}

	case MsgTypePong, MsgTypeConnected:
		// Nothing to do.

	case MsgTypeSubscribed:
		c.dispatchBook(ctx, &msg, true)

	case MsgTypeUpdateOrderBook, MsgTypeOrderBook:
		c.dispatchBook(ctx, &msg, false)

	default:
		c.logger.Debug(ctx, "unhandled message type", "type", msg.Type)
	}
}

func (c *Client) dispatchBook(ctx context.Context, msg *WSMessage, isSnapshot bool) {
	idx, err := ParseBookChannel(msg.Channel)
	if err != nil {
		c.metrics.parseErrors.Add(ctx, 1)
		c.logger.Warn(ctx, "bad order book channel", "channel", msg.Channel, "error", err)
		return
	}

	var book OrderBookData
	if err := json.Unmarshal(msg.OrderBook, &book); err != nil {
		c.metrics.parseErrors.Add(ctx, 1)
		c.logger.Warn(ctx, "failed to parse order book", "error", err)
		return
	}

	c.metrics.bookUpdates.Add(ctx, 1, metric.WithAttributes(attribute.Int("market", idx)))

	c.handlersMu.RLock()
	handler := c.onBook
	c.handlersMu.RUnlock()
	if handler != nil {
		handler(idx, &book, isSnapshot)
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.running.Store(false)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}
