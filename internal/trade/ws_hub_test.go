package trade_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajshah1302/fate-engine/internal/trade"
)

// dialHub connects a test client to a running hub.
func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSHubBroadcastReachesClient(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	// Registration races the first broadcast, so keep broadcasting until
	// the client sees a message.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				hub.Broadcast(trade.WSMessage{Type: "pool_update", PoolID: "0xpool"})
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg trade.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "pool_update" || msg.PoolID != "0xpool" {
		t.Errorf("message = %+v", msg)
	}
}

func TestWSHubPrunesDeadClientDuringBroadcast(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialHub(t, srv)
	live := dialHub(t, srv)
	defer live.Close()

	// Tear the first connection down, then broadcast through the hub. The
	// write to the dead connection fails and the hub drops it; the live
	// client must keep receiving.
	dead.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				hub.Broadcast(trade.WSMessage{Type: "trade_confirmed", PoolID: "0xpool"})
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 3; i++ {
		if _, _, err := live.ReadMessage(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
}
