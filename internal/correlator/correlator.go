// Package correlator implements the §4.5 request/response correlator:
// a mapping from correlationId to a one-shot waiter, resolved either
// by a matching reply or by timeout eviction.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

type waiter struct {
	resultCh chan *message.TransportMessage
	timer    *time.Timer
}

// Correlator resolves AwaitResponse calls when a matching reply
// arrives via Resolve, or with a timeout failure once the deadline
// passes.
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

// New constructs an empty Correlator.
func New() *Correlator {
	return &Correlator{waiters: make(map[string]*waiter)}
}

// AwaitResponse blocks until a message correlated with correlationID
// is delivered via Resolve, the timeout elapses, or ctx is cancelled.
func (c *Correlator) AwaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (*message.TransportMessage, error) {
	w := &waiter{resultCh: make(chan *message.TransportMessage, 1)}

	c.mu.Lock()
	c.waiters[correlationID] = w
	c.mu.Unlock()

	w.timer = time.AfterFunc(timeout, func() {
		c.evict(correlationID)
	})
	defer w.timer.Stop()
	defer c.evict(correlationID)

	select {
	case reply := <-w.resultCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, buserrors.New(buserrors.CategoryTimeout, buserrors.SeverityMedium, "correlator", "AwaitResponse", buserrors.ErrCorrelationTimeout)
	}
}

func (c *Correlator) evict(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, correlationID)
}

// Resolve delivers msg to the pending waiter for its correlation ID,
// if one exists. It reports whether a waiter was found and consumed;
// when false, the caller should proceed to normal dispatch.
func (c *Correlator) Resolve(msg *message.TransportMessage) bool {
	c.mu.Lock()
	w, ok := c.waiters[msg.CorrelationID]
	if ok {
		delete(c.waiters, msg.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	w.timer.Stop()
	select {
	case w.resultCh <- msg:
	default:
	}
	return true
}

// PendingCount reports how many waiters are currently outstanding.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
