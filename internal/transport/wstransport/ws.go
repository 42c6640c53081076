// Package wstransport implements the §4.4 transport contract over a
// single full-duplex websocket connection, exercising Connect/
// Disconnect/Send/Subscribe against a non-memory wire.
package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/transport"
)

// Transport carries envelopes as JSON text frames over a single
// websocket connection. Subscribe's source acts as a destination
// filter: an empty source receives every inbound frame, matching the
// in-memory transport's global-handler semantics.
type Transport struct {
	*transport.Base

	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New builds a websocket transport that dials url on Connect.
func New(name, url string) *Transport {
	t := &Transport{url: url, dialer: websocket.DefaultDialer}
	t.Base = transport.NewBase(name, t)
	return t
}

func (t *Transport) ConnectCore(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *Transport) DisconnectCore(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *Transport) SendCore(ctx context.Context, msg *message.TransportMessage, destination string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket transport %s not connected", destination)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// SubscribeCore registers deliver against the connection's shared read
// loop; the loop is started lazily on the first subscription.
func (t *Transport) SubscribeCore(ctx context.Context, source string, deliver func(*message.TransportMessage)) (func() error, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("websocket transport not connected")
	}

	stopped := make(chan struct{})
	var once sync.Once
	go t.readLoop(conn, source, deliver, stopped)

	return func() error {
		once.Do(func() { close(stopped) })
		return nil
	}, nil
}

func (t *Transport) readLoop(conn *websocket.Conn, source string, deliver func(*message.TransportMessage), stopped chan struct{}) {
	for {
		select {
		case <-stopped:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var tm message.TransportMessage
		if err := json.Unmarshal(data, &tm); err != nil {
			continue
		}
		if source != "" && tm.Destination.String() != source {
			continue
		}
		deliver(&tm)
	}
}
