package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type subscribePayload struct {
	Op  string   `json:"op"`
	IDs []string `json:"ids"`
}

func buildTestMsg(op string, ids []string) any {
	return subscribePayload{Op: op, IDs: ids}
}

// wsTestServer upgrades one connection, records the first subscribe
// payload, then echoes a single data frame.
func wsTestServer(t *testing.T, subscribeCh chan subscribePayload) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribePayload
		if err := json.Unmarshal(msg, &sub); err == nil {
			select {
			case subscribeCh <- sub:
			default:
			}
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"data"}`))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamReplaysSubscriptionsOnConnect(t *testing.T) {
	t.Parallel()
	subscribeCh := make(chan subscribePayload, 1)
	srv := wsTestServer(t, subscribeCh)
	defer srv.Close()

	received := make(chan []byte, 1)
	s := NewStream(wsURL(srv), buildTestMsg, func(data []byte) {
		select {
		case received <- data:
		default:
		}
	}, testLogger())

	// Ids tracked before the connection exists are sent at connect time.
	if err := s.Subscribe([]string{"BTC/USDT", "ETH/USDT"}); err != nil {
		t.Fatalf("Subscribe before connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case sub := <-subscribeCh:
		if sub.Op != "subscribe" || len(sub.IDs) != 2 {
			t.Errorf("subscribe payload = %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received subscribe")
	}

	select {
	case data := <-received:
		if string(data) != `{"event":"data"}` {
			t.Errorf("frame = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received frame")
	}

	if !s.Alive() {
		t.Error("stream should report alive while connected")
	}

	cancel()
}

func TestStreamSubscribedTracking(t *testing.T) {
	t.Parallel()
	s := NewStream("ws://unused", buildTestMsg, func([]byte) {}, testLogger())

	s.Subscribe([]string{"a", "b"})
	s.Subscribe([]string{"c"})
	s.Unsubscribe([]string{"b"})

	ids := s.Subscribed()
	if len(ids) != 2 {
		t.Fatalf("subscribed = %v, want 2 ids", ids)
	}
	for _, id := range ids {
		if id == "b" {
			t.Error("unsubscribed id still tracked")
		}
	}
}

func TestStreamAliveFalseWhenNotConnected(t *testing.T) {
	t.Parallel()
	s := NewStream("ws://unused", buildTestMsg, func([]byte) {}, testLogger())
	if s.Alive() {
		t.Error("stream should not be alive before Run")
	}
}
