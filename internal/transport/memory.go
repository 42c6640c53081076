package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-bus/conduit/internal/message"
)

// InMemory is the required reference transport of §4.4: delivery is
// synchronous within the process, Send iterates destination-specific
// handlers then the global handler set, there is no persistence, and
// Disconnect drops every handler.
type InMemory struct {
	*Base

	mu       sync.RWMutex
	byDestID map[string]map[string]func(*message.TransportMessage)
	global   map[string]func(*message.TransportMessage)
}

// NewInMemory constructs a ready-to-Connect in-memory transport.
func NewInMemory(name string) *InMemory {
	t := &InMemory{
		byDestID: make(map[string]map[string]func(*message.TransportMessage)),
		global:   make(map[string]func(*message.TransportMessage)),
	}
	t.Base = NewBase(name, t)
	return t
}

func (t *InMemory) ConnectCore(ctx context.Context) error { return nil }

func (t *InMemory) DisconnectCore(ctx context.Context) error {
	t.mu.Lock()
	t.byDestID = make(map[string]map[string]func(*message.TransportMessage))
	t.global = make(map[string]func(*message.TransportMessage))
	t.mu.Unlock()
	return nil
}

func (t *InMemory) SendCore(ctx context.Context, msg *message.TransportMessage, destination string) error {
	t.mu.RLock()
	destHandlers := make([]func(*message.TransportMessage), 0, len(t.byDestID[destination]))
	for _, h := range t.byDestID[destination] {
		destHandlers = append(destHandlers, h)
	}
	globalHandlers := make([]func(*message.TransportMessage), 0, len(t.global))
	for _, h := range t.global {
		globalHandlers = append(globalHandlers, h)
	}
	t.mu.RUnlock()

	for _, h := range destHandlers {
		h(msg)
	}
	for _, h := range globalHandlers {
		h(msg)
	}
	return nil
}

// SubscribeCore registers deliver under source when non-empty, or as
// a global handler (receiving every Send regardless of destination)
// when source is empty.
func (t *InMemory) SubscribeCore(ctx context.Context, source string, deliver func(*message.TransportMessage)) (func() error, error) {
	id := uuid.NewString()

	t.mu.Lock()
	if source == "" {
		t.global[id] = deliver
	} else {
		if t.byDestID[source] == nil {
			t.byDestID[source] = make(map[string]func(*message.TransportMessage))
		}
		t.byDestID[source][id] = deliver
	}
	t.mu.Unlock()

	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if source == "" {
			delete(t.global, id)
		} else if m, ok := t.byDestID[source]; ok {
			delete(m, id)
		}
		return nil
	}, nil
}
