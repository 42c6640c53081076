// Package transport implements the §4.4 transport abstraction: a
// shared connect/send/subscribe/statistics contract, a lifecycle
// template every concrete transport builds on, and the required
// in-memory reference implementation.
package transport

import (
	"context"
	"time"

	"github.com/conduit-bus/conduit/internal/message"
)

// Handler processes an inbound TransportMessage delivered to a
// subscription.
type Handler func(ctx context.Context, msg *message.TransportMessage) error

// Subscription is an active receive binding created by Subscribe. It
// can be paused and resumed without losing its place, and unsubscribe
// is idempotent.
type Subscription interface {
	ID() string
	Source() string
	Active() bool
	ReceivedCount() int64
	Pause()
	Resume()
	Unsubscribe() error
}

// Statistics is a monotonically increasing counters snapshot; sent and
// received totals never decrease across the life of a transport.
type Statistics struct {
	MessagesSent        int64
	BytesSent           int64
	MessagesReceived    int64
	BytesReceived       int64
	ConnectionAttempts  int64
	ConnectionSuccesses int64
	ConnectionFailures  int64
	SendFailures        int64
	AverageSendTime     time.Duration
}

// Transport is the uniform contract every wire binding satisfies. A
// transport is single-state with respect to connectedness: Send and
// Subscribe fail with buserrors.ErrNotConnected while disconnected.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg *message.TransportMessage, destination string) error
	Subscribe(ctx context.Context, source string, handler Handler) (Subscription, error)
	GetStatistics() Statistics
	Dispose(ctx context.Context) error
}

// Core is the small surface a concrete transport implements; Base
// supplies the shared lifecycle template around it.
type Core interface {
	ConnectCore(ctx context.Context) error
	DisconnectCore(ctx context.Context) error
	SendCore(ctx context.Context, msg *message.TransportMessage, destination string) error
	SubscribeCore(ctx context.Context, source string, deliver func(*message.TransportMessage)) (stop func() error, err error)
}
