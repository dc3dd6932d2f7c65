package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestPair dials a real WebSocket connection over an httptest
// server and returns the server-side connection (wrapped) and the
// client-side raw connection.
func newTestPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()
	var upgrader websocket.Upgrader
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-serverConnCh
	return NewConnection(serverConn), clientConn
}

func TestConnection_SendDeliversRoundTrip(t *testing.T) {
	conn, client := newTestPair(t)
	t.Cleanup(func() { _ = conn.Close() })

	type payload struct {
		Hello string `json:"hello"`
	}
	if ok := conn.Send(payload{Hello: "world"}); !ok {
		t.Fatal("expected send to succeed")
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var got payload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Hello != "world" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	conn, _ := newTestPair(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if ok := conn.Send(map[string]string{"a": "b"}); ok {
		t.Error("expected send after close to be dropped")
	}
}

func TestConnection_SendDropsWhenOutboxFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Construct directly, without starting writeLoop, so the outbox
	// fills deterministically rather than racing a draining writer.
	c := &Connection{
		conn:    nil,
		writeCh: make(chan []byte, OutboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < OutboxSize; i++ {
		if ok := c.Send(map[string]int{"n": i}); !ok {
			t.Fatalf("send %d should have succeeded, outbox not yet full", i)
		}
	}
	if c.Dropped() != 0 {
		t.Fatalf("expected no drops yet, got %d", c.Dropped())
	}

	if ok := c.Send(map[string]int{"n": OutboxSize}); ok {
		t.Fatal("expected send to be dropped once outbox is full")
	}
	if c.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", c.Dropped())
	}
}
