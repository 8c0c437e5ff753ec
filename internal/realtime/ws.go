// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// ErrNotConnected is returned when an operation needs an open connection.
var ErrNotConnected = errors.New("realtime transport not connected")

// frame is the wire envelope for subscription control and change events.
type frame struct {
	Type    string          `json:"type"` // subscribe | unsubscribe | change | heartbeat
	Topic   string          `json:"topic,omitempty"`
	Table   string          `json:"table,omitempty"`
	Filter  string          `json:"filter,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TokenFunc supplies the current bearer token for the handshake.
type TokenFunc func() string

// WSTransport is the websocket change-feed transport.
type WSTransport struct {
	url     string
	token   TokenFunc
	handler ChangeHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	channels  map[string]ChannelDesc
	connected bool
	done      chan struct{}
}

// NewWSTransport creates a transport dialing url. token may be nil when the
// endpoint needs no auth; handler may be nil to drop change events.
func NewWSTransport(url string, token TokenFunc, handler ChangeHandler) *WSTransport {
	if handler == nil {
		handler = func(Change) {}
	}
	return &WSTransport{
		url:      url,
		token:    token,
		handler:  handler,
		channels: map[string]ChannelDesc{},
	}
}

// Connect dials the endpoint and replays every registered subscription.
// Idempotent when already connected.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	header := http.Header{}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	t.conn = conn
	t.connected = true
	t.done = make(chan struct{})

	for _, desc := range t.channels {
		if err := t.writeFrame(frame{Type: "subscribe", Topic: desc.Topic, Table: desc.Table, Filter: desc.Filter}); err != nil {
			t.teardownLocked()
			return fmt.Errorf("replay subscription %s: %w", desc.Topic, err)
		}
	}

	go t.readPump(conn, t.done)
	go t.pingLoop(conn, t.done)

	logging.Info().Str("url", t.url).Int("channels", len(t.channels)).Msg("realtime transport connected")
	return nil
}

// Disconnect closes the connection. Registered subscriptions are kept for
// replay on the next Connect. Idempotent when disconnected.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.teardownLocked()
	logging.Info().Msg("realtime transport disconnected")
	return nil
}

// Connected reports the current link state.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Subscribe registers a channel and, when connected, sends the subscribe
// frame immediately.
func (t *WSTransport) Subscribe(desc ChannelDesc) error {
	if desc.Topic == "" {
		return errors.New("subscription topic cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.channels[desc.Topic] = desc
	if !t.connected {
		return nil
	}
	return t.writeFrame(frame{Type: "subscribe", Topic: desc.Topic, Table: desc.Table, Filter: desc.Filter})
}

// Unsubscribe removes a channel and, when connected, sends the unsubscribe
// frame.
func (t *WSTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.channels[topic]; !ok {
		return nil
	}
	delete(t.channels, topic)
	if !t.connected {
		return nil
	}
	return t.writeFrame(frame{Type: "unsubscribe", Topic: topic})
}

// writeFrame sends one control frame. Caller holds t.mu.
func (t *WSTransport) writeFrame(f frame) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(f)
}

// teardownLocked closes the connection and stops the pumps. Caller holds
// t.mu.
func (t *WSTransport) teardownLocked() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	if t.conn != nil {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = t.conn.Close()
		t.conn = nil
	}
	t.connected = false
}

// readPump consumes frames until the connection drops, dispatching change
// events to the handler.
func (t *WSTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.teardownLocked()
		}
		t.mu.Unlock()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-done:
			return
		default:
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Msg("realtime connection dropped")
			}
			return
		}

		if f.Type != "change" {
			continue
		}
		var change Change
		if err := json.Unmarshal(f.Payload, &change); err != nil {
			logging.Warn().Err(err).Str("topic", f.Topic).Msg("failed to decode change event")
			continue
		}
		if change.Topic == "" {
			change.Topic = f.Topic
		}
		t.handler(change)
	}
}

// pingLoop keeps the connection alive.
func (t *WSTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.conn != conn {
				t.mu.Unlock()
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

var _ Transport = (*WSTransport)(nil)
