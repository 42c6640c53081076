package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

// Base implements the shared lifecycle template of §4.4: Connect
// acquires the connected flag under a lock and delegates to
// ConnectCore, Send asserts connection and time-measures the core
// send to maintain a running average, Subscribe assigns a fresh id and
// delegates to SubscribeCore, and Dispose closes every subscription
// before disconnecting. Concrete transports embed Base and supply
// Core.
type Base struct {
	Core Core
	Name string

	mu          sync.Mutex
	connected   bool
	subs        map[string]*subscription
	stats       Statistics
	sendSamples int64
}

// NewBase wires a concrete Core into the shared lifecycle template.
func NewBase(name string, core Core) *Base {
	return &Base{Name: name, Core: core, subs: make(map[string]*subscription)}
}

func (b *Base) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return buserrors.ErrAlreadyConnected
	}
	b.mu.Unlock()

	atomic.AddInt64(&b.stats.ConnectionAttempts, 1)
	if err := b.Core.ConnectCore(ctx); err != nil {
		atomic.AddInt64(&b.stats.ConnectionFailures, 1)
		be := buserrors.New(buserrors.CategoryNetwork, buserrors.SeverityHigh, b.Name, "Connect", err)
		be.IsTransient = true
		return be
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	atomic.AddInt64(&b.stats.ConnectionSuccesses, 1)
	return nil
}

func (b *Base) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.markInactive()
	}
	return b.Core.DisconnectCore(ctx)
}

func (b *Base) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Base) Send(ctx context.Context, msg *message.TransportMessage, destination string) error {
	if !b.isConnected() {
		return buserrors.New(buserrors.CategoryNetwork, buserrors.SeverityMedium, b.Name, "Send", buserrors.ErrNotConnected)
	}

	start := time.Now()
	err := b.Core.SendCore(ctx, msg, destination)
	elapsed := time.Since(start)

	if err != nil {
		atomic.AddInt64(&b.stats.SendFailures, 1)
		be := buserrors.New(buserrors.CategoryNetwork, buserrors.SeverityMedium, b.Name, "Send", err)
		be.IsTransient = true
		return be
	}

	b.mu.Lock()
	b.stats.MessagesSent++
	b.stats.BytesSent += int64(len(msg.Payload))
	n := b.sendSamples + 1
	b.sendSamples = n
	b.stats.AverageSendTime = b.stats.AverageSendTime + (elapsed-b.stats.AverageSendTime)/time.Duration(n)
	b.mu.Unlock()
	return nil
}

func (b *Base) Subscribe(ctx context.Context, source string, handler Handler) (Subscription, error) {
	if !b.isConnected() {
		return nil, buserrors.New(buserrors.CategoryNetwork, buserrors.SeverityMedium, b.Name, "Subscribe", buserrors.ErrNotConnected)
	}

	sub := &subscription{id: uuid.NewString(), source: source, base: b}
	sub.active.Store(true)
	deliver := func(msg *message.TransportMessage) {
		if !sub.Active() {
			return
		}
		atomic.AddInt64(&sub.received, 1)
		atomic.AddInt64(&b.stats.MessagesReceived, 1)
		atomic.AddInt64(&b.stats.BytesReceived, int64(len(msg.Payload)))
		_ = handler(ctx, msg)
	}

	stop, err := b.Core.SubscribeCore(ctx, source, deliver)
	if err != nil {
		return nil, err
	}
	sub.stop = stop

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

func (b *Base) GetStatistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Base) Dispose(ctx context.Context) error {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return b.Disconnect(ctx)
}

func (b *Base) removeSub(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type subscription struct {
	id       string
	source   string
	active   atomic.Bool
	received int64
	base     *Base
	stop     func() error
}

func (s *subscription) ID() string           { return s.id }
func (s *subscription) Source() string       { return s.source }
func (s *subscription) ReceivedCount() int64 { return atomic.LoadInt64(&s.received) }
func (s *subscription) Active() bool         { return s.active.Load() }
func (s *subscription) Pause()               { s.active.Store(false) }
func (s *subscription) Resume()              { s.active.Store(true) }
func (s *subscription) markInactive()        { s.active.Store(false) }

func (s *subscription) Unsubscribe() error {
	if !s.active.Swap(false) {
		return nil
	}
	s.base.removeSub(s.id)
	if s.stop != nil {
		return s.stop()
	}
	return nil
}
