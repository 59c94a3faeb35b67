package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

func TestClient_ResubscribeAfterReconnect(t *testing.T) {
	type frame struct {
		conn int
		data []byte
	}
	frames := make(chan frame, 16)

	var connSeq atomic.Int32
	var second atomic.Value // *websocket.Conn

	// The first connection is dropped by the server after both subscribe
	// frames arrive; the second stays open for the replay.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		id := int(connSeq.Add(1))
		if id == 2 {
			second.Store(conn)
		}

		ctx := context.Background()
		seen := make(map[string]bool)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			frames <- frame{conn: id, data: data}
			if id == 1 {
				var req WSRequest
				if json.Unmarshal(data, &req) == nil {
					seen[req.Subscription.Coin] = true
				}
				if seen["ETH"] && seen["BTC"] {
					conn.CloseNow()
					return
				}
			}
		}
	}))
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.WebSocketURL = "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := NewClient(cfg, logger.New(io.Discard, logger.LevelError, "test", nil))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	books := make(chan *L2BookData, 1)
	client.OnL2Book(func(b *L2BookData) {
		select {
		case books <- b:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Subscribe(ctx, "ETH"); err != nil {
		t.Fatalf("subscribe ETH: %v", err)
	}
	if err := client.Subscribe(ctx, "BTC"); err != nil {
		t.Fatalf("subscribe BTC: %v", err)
	}

	// recvSubs drains frames until both coins were subscribed on the given
	// connection. Frames from earlier connections are ignored.
	recvSubs := func(conn int) map[string]bool {
		t.Helper()
		coins := make(map[string]bool)
		for len(coins) < 2 {
			select {
			case f := <-frames:
				if f.conn != conn {
					continue
				}
				var req WSRequest
				if err := json.Unmarshal(f.data, &req); err != nil {
					t.Fatalf("unmarshal %s: %v", f.data, err)
				}
				if req.Method != "subscribe" || req.Subscription.Type != ChannelL2Book {
					t.Fatalf("expected l2Book subscribe frame, got %s", f.data)
				}
				coins[req.Subscription.Coin] = true
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for subscribe frames on connection %d", conn)
			}
		}
		return coins
	}

	first := recvSubs(1)
	if !first["ETH"] || !first["BTC"] {
		t.Fatalf("initial subscriptions missing coins: %v", first)
	}

	// The server killed connection 1; both subscriptions must replay on the
	// new connection without any further Subscribe calls.
	replayed := recvSubs(2)
	if !replayed["ETH"] || !replayed["BTC"] {
		t.Fatalf("replayed subscriptions missing coins: %v", replayed)
	}

	// Delivery resumes once the replay is through.
	conn := second.Load().(*websocket.Conn)
	book := `{"channel":"l2Book","data":{"coin":"ETH","levels":[[{"px":"100","sz":"1","n":1}],[{"px":"101","sz":"1","n":1}]],"time":1700000000123}}`
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(book)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case b := <-books:
		if b.Coin != "ETH" {
			t.Errorf("unexpected coin %q", b.Coin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no book delivered after reconnect")
	}
}
