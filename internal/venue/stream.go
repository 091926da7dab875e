// stream.go implements the WebSocket stream base concrete adapters build
// their push channels on.
//
// A Stream owns one connection to a venue's streaming endpoint. It tracks
// the set of subscribed channel ids so a reconnect replays them, detects
// silent server failures with a read deadline, and backs off exponentially
// between reconnect attempts (1s doubling to 30s). Message parsing is the
// adapter's job: every inbound frame is handed to the configured handler.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamPingInterval = 50 * time.Second
	streamReadTimeout  = 90 * time.Second // ~2 missed pings triggers reconnect
	streamWriteTimeout = 10 * time.Second
	streamMaxReconnect = 30 * time.Second
)

// SubscribeMsgFunc builds the venue-specific payload for a subscribe or
// unsubscribe request ("subscribe"/"unsubscribe") over the given ids.
type SubscribeMsgFunc func(op string, ids []string) any

// Stream maintains one auto-reconnecting WebSocket connection.
type Stream struct {
	url       string
	buildMsg  SubscribeMsgFunc
	onMessage func(data []byte)
	logger    *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	alive  bool

	subscribedMu sync.RWMutex
	subscribed   map[string]bool
}

// NewStream creates a stream for the given endpoint. onMessage receives
// every raw frame; buildMsg shapes (un)subscribe requests.
func NewStream(url string, buildMsg SubscribeMsgFunc, onMessage func([]byte), logger *slog.Logger) *Stream {
	return &Stream{
		url:        url,
		buildMsg:   buildMsg,
		onMessage:  onMessage,
		logger:     logger.With("component", "stream"),
		subscribed: make(map[string]bool),
	}
}

// Alive reports whether the connection is currently established. The
// subscription coordinator uses this to choose push over polling.
func (s *Stream) Alive() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.alive
}

// Subscribed returns the tracked channel ids.
func (s *Stream) Subscribed() []string {
	s.subscribedMu.RLock()
	defer s.subscribedMu.RUnlock()
	ids := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		ids = append(ids, id)
	}
	return ids
}

// Run connects and maintains the connection until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > streamMaxReconnect {
			backoff = streamMaxReconnect
		}
	}
}

// Subscribe adds channel ids and sends the subscribe request when
// connected. Ids are replayed automatically after a reconnect.
func (s *Stream) Subscribe(ids []string) error {
	s.subscribedMu.Lock()
	for _, id := range ids {
		s.subscribed[id] = true
	}
	s.subscribedMu.Unlock()

	if !s.Alive() {
		return nil // sent on connect
	}
	return s.writeJSON(s.buildMsg("subscribe", ids))
}

// Unsubscribe removes ids from tracking and notifies the venue.
func (s *Stream) Unsubscribe(ids []string) error {
	s.subscribedMu.Lock()
	for _, id := range ids {
		delete(s.subscribed, id)
	}
	s.subscribedMu.Unlock()

	if !s.Alive() {
		return nil
	}
	return s.writeJSON(s.buildMsg("unsubscribe", ids))
}

// Close shuts the connection down.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.alive = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.alive = true
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.alive = false
		s.connMu.Unlock()
	}()

	if ids := s.Subscribed(); len(ids) > 0 {
		if err := s.writeJSON(s.buildMsg("subscribe", ids)); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	s.logger.Info("stream connected", "url", s.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.onMessage(msg)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteMessage(msgType, data)
}
