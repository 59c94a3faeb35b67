// Package wsconn provides a reconnecting WebSocket client wrapper around
// github.com/coder/websocket with ping keep-alive and state notifications.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// State represents the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds connection settings.
type Config struct {
	URL  string
	Name string // identifies the connection in logs and errors

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxReconnects  int // 0 = unlimited

	PingInterval time.Duration // 0 disables keep-alive pings
	PongTimeout  time.Duration

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns sensible defaults for the given endpoint.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		MaxReconnects:  0,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// MessageHandler receives raw inbound frames.
type MessageHandler func(ctx context.Context, msg []byte)

// StateChangeHandler is notified on every state transition. err is non-nil
// when the transition was caused by a failure.
type StateChangeHandler func(state State, err error)

// Client is a WebSocket connection that reconnects automatically after
// transport failures.
type Client struct {
	cfg Config

	conn   *websocket.Conn
	connMu sync.RWMutex

	writeMu sync.Mutex

	state atomic.Int32

	onMessage     MessageHandler
	onStateChange StateChangeHandler
	handlersMu    sync.RWMutex

	readCancel context.CancelFunc
	readDone   chan struct{}
	loopMu     sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a client. It does not connect.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsconn: url is required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	c := &Client{cfg: cfg}
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// OnMessage registers the inbound frame handler. Must be called before Connect.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlersMu.Lock()
	c.onMessage = handler
	c.handlersMu.Unlock()
}

// OnStateChange registers the state transition handler.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.handlersMu.Lock()
	c.onStateChange = handler
	c.handlersMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the connection is established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) setState(s State, err error) {
	c.state.Store(int32(s))

	c.handlersMu.RLock()
	handler := c.onStateChange
	c.handlersMu.RUnlock()

	if handler != nil {
		handler(s, err)
	}
}

// Connect dials the endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("wsconn %s: client closed", c.cfg.Name)
	}

	c.setState(StateConnecting, nil)

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected, err)
		return fmt.Errorf("wsconn %s: dial %s: %w", c.cfg.Name, c.cfg.URL, err)
	}

	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected, nil)
	c.startLoops()

	return nil
}

// ConnectWithRetry dials with exponential backoff until it succeeds, the
// context is cancelled, or MaxReconnects attempts fail.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	attempts := 0

	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		attempts++
		if c.cfg.MaxReconnects > 0 && attempts >= c.cfg.MaxReconnects {
			return fmt.Errorf("wsconn %s: giving up after %d attempts: %w", c.cfg.Name, attempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// startLoops launches the read loop and, if configured, the ping loop for the
// current connection.
func (c *Client) startLoops() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.readCancel = cancel
	c.readDone = make(chan struct{})

	go c.readLoop(ctx, c.readDone)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(ctx)
	}
}

func (c *Client) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		readCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		}

		_, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() {
				return
			}
			go c.reconnect(err)
			return
		}

		c.handlersMu.RLock()
		handler := c.onMessage
		c.handlersMu.RUnlock()

		if handler != nil {
			handler(ctx, data)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				return
			}

			timeout := c.cfg.PongTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil || c.closed.Load() {
					return
				}
				go c.reconnect(err)
				return
			}
		}
	}
}

// reconnect tears down the broken connection and redials with backoff.
func (c *Client) reconnect(cause error) {
	if c.closed.Load() {
		return
	}

	c.teardownConn()
	c.setState(StateReconnecting, cause)

	backoff := c.cfg.InitialBackoff
	attempts := 0

	for {
		if c.closed.Load() {
			return
		}

		time.Sleep(backoff)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		cancel()
		if err == nil {
			if c.cfg.MaxMessageSize > 0 {
				conn.SetReadLimit(c.cfg.MaxMessageSize)
			}
			c.connMu.Lock()
			c.conn = conn
			c.connMu.Unlock()

			c.setState(StateConnected, nil)
			c.startLoops()
			return
		}

		attempts++
		if c.cfg.MaxReconnects > 0 && attempts >= c.cfg.MaxReconnects {
			c.setState(StateDisconnected, err)
			return
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) teardownConn() {
	c.loopMu.Lock()
	if c.readCancel != nil {
		c.readCancel()
	}
	c.loopMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.CloseNow()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Send writes a raw text frame. Writes are serialized.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("wsconn %s: not connected", c.cfg.Name)
	}

	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsconn %s: write: %w", c.cfg.Name, err)
	}
	return nil
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsconn %s: marshal: %w", c.cfg.Name, err)
	}
	return c.Send(ctx, data)
}

// Close shuts the connection down. It is safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.loopMu.Lock()
		if c.readCancel != nil {
			c.readCancel()
		}
		done := c.readDone
		c.loopMu.Unlock()

		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
			c.conn = nil
		}
		c.connMu.Unlock()

		if done != nil {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		}

		c.setState(StateClosed, nil)
	})
	return nil
}
