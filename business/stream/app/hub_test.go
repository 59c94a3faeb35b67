package app

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub, err := NewHub(testLogger())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return hub
}

// registerClient adds an unpumped client so tests can read frames straight
// off its send channel.
func registerClient(t *testing.T, hub *Hub, symbols ...string) *Client {
	t.Helper()
	c := newClient(hub, nil)
	for _, s := range symbols {
		c.addSymbol(s)
	}
	hub.add(context.Background(), c)
	return c
}

func recvFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SendToSubscribedFiltersBySymbol(t *testing.T) {
	hub := startHub(t)
	ethClient := registerClient(t, hub, "ETH")
	btcClient := registerClient(t, hub, "BTC")

	hub.SendToSubscribed("ETH", []byte(`{"k":"v"}`))

	if got := recvFrame(t, ethClient); string(got) != `{"k":"v"}` {
		t.Errorf("unexpected frame %s", got)
	}
	assertNoFrame(t, btcClient)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	slow := registerClient(t, hub, "ETH")
	healthy := registerClient(t, hub, "ETH")

	for i := 0; i < sendBufferSize; i++ {
		if !slow.enqueue([]byte("x")) {
			t.Fatal("buffer filled early")
		}
	}

	hub.SendToSubscribed("ETH", []byte("y"))

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected slow client dropped, have %d clients", got)
	}

	// The healthy client still received the frame.
	if got := recvFrame(t, healthy); string(got) != "y" {
		t.Errorf("unexpected frame %s", got)
	}
}

func TestClient_SubscribeFrame(t *testing.T) {
	hub := startHub(t)

	var subscribed []string
	hub.OnSubscribe(func(ctx context.Context, c *Client, symbol string) {
		subscribed = append(subscribed, symbol)
	})

	c := registerClient(t, hub)
	c.handleFrame(context.Background(), []byte(`{"action":"subscribe","markets":["ETH","BTC"]}`))

	if !c.subscribedTo("ETH") || !c.subscribedTo("BTC") {
		t.Error("expected both symbols in the client set")
	}
	if len(subscribed) != 2 {
		t.Errorf("expected 2 subscribe callbacks, got %d", len(subscribed))
	}

	c.handleFrame(context.Background(), []byte(`{"action":"unsubscribe","markets":["ETH"]}`))
	if c.subscribedTo("ETH") {
		t.Error("expected ETH removed")
	}
	if !c.subscribedTo("BTC") {
		t.Error("expected BTC retained")
	}
}

func TestClient_PingForms(t *testing.T) {
	hub := startHub(t)
	c := registerClient(t, hub)

	for _, frame := range []string{`{"action":"ping"}`, `{"type":"ping"}`, "ping"} {
		c.handleFrame(context.Background(), []byte(frame))

		var pong PongMsg
		if err := json.Unmarshal(recvFrame(t, c), &pong); err != nil {
			t.Fatalf("frame %q: %v", frame, err)
		}
		if pong.Type != MsgTypePong {
			t.Errorf("frame %q: expected pong, got %+v", frame, pong)
		}
	}

	// Bare pong frames are accepted silently.
	c.handleFrame(context.Background(), []byte("pong"))
	c.handleFrame(context.Background(), []byte(`{"type":"pong"}`))
	assertNoFrame(t, c)
}

func TestClient_BadFrameIgnored(t *testing.T) {
	hub := startHub(t)
	c := registerClient(t, hub)

	c.handleFrame(context.Background(), []byte("not json"))
	c.handleFrame(context.Background(), []byte(`{"action":"dance"}`))
	assertNoFrame(t, c)
}
