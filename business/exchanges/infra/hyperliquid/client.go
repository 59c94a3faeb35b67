package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
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
	tracerName = "hyperliquid"
	meterName  = "hyperliquid"

	// Hyperliquid public WebSocket endpoint
	BaseWSURL = "wss://api.hyperliquid.xyz/ws"

	defaultNLevels = 20
)

// ClientConfig holds configuration for the Hyperliquid client.
type ClientConfig struct {
	WebSocketURL string
	NLevels      int // Book depth per side, in [1,100]
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WebSocketURL: BaseWSURL,
		NLevels:      defaultNLevels,
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

// Client is a Hyperliquid WebSocket client. Every l2Book message is a full
// snapshot of the subscribed coin's book.
type Client struct {
	config ClientConfig
	logger logger.LoggerInterface

	conn   *wsconn.Client
	connMu sync.RWMutex

	onL2Book   func(*L2BookData)
	handlersMu sync.RWMutex

	subscriptions map[string]struct{}
	subsMu        sync.RWMutex

	tracer  trace.Tracer
	metrics *clientMetrics

	running atomic.Bool
}

// NewClient creates a new Hyperliquid WebSocket client.
func NewClient(cfg ClientConfig, log logger.LoggerInterface) (*Client, error) {
	if cfg.NLevels < 1 || cfg.NLevels > 100 {
		return nil, apperror.New(apperror.CodeInvalidLevelCount,
			apperror.WithContext(fmt.Sprintf("nLevels %d outside [1,100]", cfg.NLevels)))
	}

	c := &Client{
		config:        cfg,
		logger:        log,
		subscriptions: make(map[string]struct{}),
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
		"hyperliquid_messages_total",
		metric.WithDescription("Total messages received"),
	)
	if err != nil {
		return err
	}

	c.metrics.bookUpdates, err = meter.Int64Counter(
		"hyperliquid_book_updates_total",
		metric.WithDescription("Total l2Book messages received"),
	)
	if err != nil {
		return err
	}

	c.metrics.subscriptions, err = meter.Int64UpDownCounter(
		"hyperliquid_subscriptions",
		metric.WithDescription("Active coin subscriptions"),
	)
	if err != nil {
		return err
	}

	c.metrics.parseErrors, err = meter.Int64Counter(
		"hyperliquid_parse_errors_total",
		metric.WithDescription("Message parse errors"),
	)
	if err != nil {
		return err
	}

	c.metrics.reconnects, err = meter.Int64Counter(
		"hyperliquid_reconnects_total",
		metric.WithDescription("Reconnections"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OnL2Book registers the handler for order book messages.
func (c *Client) OnL2Book(handler func(*L2BookData)) {
	c.handlersMu.Lock()
	c.onL2Book = handler
	c.handlersMu.Unlock()
}

// Connect establishes the WebSocket connection. Subscriptions added before
// Connect are sent once the connection is up.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "hyperliquid.connect",
		trace.WithAttributes(attribute.String("url", c.config.WebSocketURL)),
	)
	defer span.End()

	wsCfg := wsconn.DefaultConfig(c.config.WebSocketURL, "hyperliquid")
	wsCfg.ReadTimeout = c.config.ReadTimeout
	wsCfg.WriteTimeout = c.config.WriteTimeout

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return apperror.New(apperror.CodeHyperliquidConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to create wsconn"))
	}

	conn.OnMessage(c.handleMessage)
	conn.OnStateChange(func(state wsconn.State, cause error) {
		if state != wsconn.StateConnected {
			return
		}
		c.metrics.reconnects.Add(context.Background(), 1)
		// The feed forgets subscriptions across reconnects.
		go c.resubscribeAll(context.Background())
	})

	if err := conn.ConnectWithRetry(ctx); err != nil {
		return apperror.New(apperror.CodeHyperliquidConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect to Hyperliquid"))
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.running.Store(true)

	if err := c.resubscribeAll(ctx); err != nil {
		c.logger.Warn(ctx, "initial subscribe failed", "error", err)
	}

	c.logger.Info(ctx, "hyperliquid client connected", "url", c.config.WebSocketURL)
	return nil
}

// Subscribe subscribes to a coin's order book. Idempotent per coin.
func (c *Client) Subscribe(ctx context.Context, coin string) error {
	c.subsMu.Lock()
	if _, ok := c.subscriptions[coin]; ok {
		c.subsMu.Unlock()
		return nil
	}
	c.subscriptions[coin] = struct{}{}
	c.subsMu.Unlock()

	c.metrics.subscriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("coin", coin)))

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		// Sent by resubscribeAll once connected.
		return nil
	}

	if err := conn.SendJSON(ctx, SubscribeRequest(coin, c.config.NLevels)); err != nil {
		return apperror.New(apperror.CodeHyperliquidSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext("coin "+coin))
	}
	return nil
}

// Unsubscribe stops the coin's order book feed.
func (c *Client) Unsubscribe(ctx context.Context, coin string) error {
	c.subsMu.Lock()
	if _, ok := c.subscriptions[coin]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subscriptions, coin)
	c.subsMu.Unlock()

	c.metrics.subscriptions.Add(ctx, -1, metric.WithAttributes(attribute.String("coin", coin)))

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil
	}

	return conn.SendJSON(ctx, UnsubscribeRequest(coin, c.config.NLevels))
}

func (c *Client) resubscribeAll(ctx context.Context) error {
	c.subsMu.RLock()
	coins := make([]string, 0, len(c.subscriptions))
	for coin := range c.subscriptions {
		coins = append(coins, coin)
	}
	c.subsMu.RUnlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil
	}

	for _, coin := range coins {
		if err := conn.SendJSON(ctx, SubscribeRequest(coin, c.config.NLevels)); err != nil {
			return apperror.New(apperror.CodeHyperliquidSubscribeFailed,
				apperror.WithCause(err),
				apperror.WithContext("coin "+coin))
		}
	}

	if len(coins) > 0 {
		c.logger.Info(ctx, "hyperliquid subscriptions sent", "coins", coins)
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

	switch msg.Channel {
	case ChannelL2Book:
		var book L2BookData
		if err := json.Unmarshal(msg.Data, &book); err != nil {
			c.metrics.parseErrors.Add(ctx, 1)
			c.logger.Warn(ctx, "failed to parse l2Book", "error", err)
			return
		}
		c.metrics.bookUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("coin", book.Coin)))

		c.handlersMu.RLock()
		handler := c.onL2Book
		c.handlersMu.RUnlock()
		if handler != nil {
			handler(&book)
		}

	case ChannelSubscriptionResponse:
		c.logger.Debug(ctx, "subscription confirmed")

	case ChannelError:
		c.logger.Warn(ctx, "feed error", "data", string(msg.Data))
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
