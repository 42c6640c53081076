// Package message defines the envelope types that flow through the
// bus: Message (application-level unit of work), MessageContext
// (per-delivery mutable state), and TransportMessage (the wire
// envelope transports exchange).
package message

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes commands, queries and events for routing.
type Kind int

const (
	KindCommand Kind = iota
	KindQuery
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the unit of work a producer hands to the bus.
type Message struct {
	ID            string
	CorrelationID string
	CausationID   string
	Type          string
	Kind          Kind
	Headers       map[string]any
	Timestamp     time.Time
	Payload       []byte
}

// New builds a Message with a freshly generated id (Invariant:
// "absence at ingress causes auto-generation"); it takes no id or
// correlation id from the caller. The correlation id is set to the
// message's own id, making it the root of a new conversation.
func New(kind Kind, typeTag string, payload []byte) *Message {
	id := uuid.NewString()
	return &Message{
		ID:            id,
		CorrelationID: id,
		Type:          typeTag,
		Kind:          kind,
		Headers:       make(map[string]any),
		Timestamp:     time.Now(),
		Payload:       payload,
	}
}

// Derive builds a causally-downstream message: the correlationId
// propagates unchanged from parent, and causationId names parent
// directly, per the data-model invariant.
func (m *Message) Derive(kind Kind, typeTag string, payload []byte) *Message {
	child := New(kind, typeTag, payload)
	child.CorrelationID = m.CorrelationID
	child.CausationID = m.ID
	return child
}

// MessageContext is the per-delivery envelope the pipeline mutates.
// It never mutates the underlying Message's payload in place.
type MessageContext struct {
	Message *Message

	RetryCount      int
	DeliveryCount   int
	Priority        int
	ExpiresAt       *time.Time
	ProcessingStart time.Time
	ProcessingEnd   time.Time
	FaultException  error
	isAcknowledged  bool

	Parent *MessageContext
	Depth  int

	mu    sync.Mutex
	items map[string]any
}

// NewContext wraps msg for a single delivery attempt.
func NewContext(msg *Message) *MessageContext {
	return &MessageContext{
		Message:       msg,
		Priority:      5,
		DeliveryCount: 1,
		items:         make(map[string]any),
	}
}

// Child produces a nested context (e.g. for a handler issuing a
// sub-command), linking Parent and incrementing Depth.
func (c *MessageContext) Child(msg *Message) *MessageContext {
	child := NewContext(msg)
	child.Parent = c
	child.Depth = c.Depth + 1
	child.Priority = c.Priority
	return child
}

// Set attaches a scratch value to the context; behaviors use this
// instead of mutating the Message payload.
func (c *MessageContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// Get retrieves a scratch value previously set by a behavior.
func (c *MessageContext) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

// IsExpired reports whether ExpiresAt has already passed.
func (c *MessageContext) IsExpired() bool {
	return c.ExpiresAt != nil && time.Now().After(*c.ExpiresAt)
}

// Acknowledge marks the delivery complete; idempotent.
func (c *MessageContext) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isAcknowledged = true
	c.ProcessingEnd = time.Now()
}

// IsAcknowledged reports whether Acknowledge has been called.
func (c *MessageContext) IsAcknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAcknowledged
}
