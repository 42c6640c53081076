package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DestinationKind is the scheme component of a "kind://name" URI.
type DestinationKind string

const (
	DestinationQueue     DestinationKind = "queue"
	DestinationTopic     DestinationKind = "topic"
	DestinationTempQueue DestinationKind = "temp-queue"
	DestinationTempTopic DestinationKind = "temp-topic"
)

// Destination is a parsed "kind://name" address. A bare name with no
// scheme is treated as queue://<name>, per §6.
type Destination struct {
	Kind DestinationKind
	Name string
}

// ParseDestination parses a destination URI, defaulting to queue://
// when no scheme is present.
func ParseDestination(raw string) Destination {
	if raw == "" {
		return Destination{}
	}
	if idx := strings.Index(raw, "://"); idx >= 0 {
		return Destination{Kind: DestinationKind(raw[:idx]), Name: raw[idx+3:]}
	}
	return Destination{Kind: DestinationQueue, Name: raw}
}

func (d Destination) String() string {
	if d.Kind == "" && d.Name == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", d.Kind, d.Name)
}

// PriorityBucket is the canonical 0-10 -> enum mapping transports that
// support native priority map onto, per §6.
type PriorityBucket int

const (
	PriorityLowest PriorityBucket = iota
	PriorityVeryLow
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityVeryHigh
	PriorityHighest
)

// Bucket maps a 0-10 priority integer to the canonical bucketing.
func Bucket(priority int) PriorityBucket {
	switch {
	case priority <= 1:
		return PriorityLowest
	case priority <= 3:
		return PriorityVeryLow
	case priority == 4:
		return PriorityLow
	case priority <= 6:
		return PriorityNormal
	case priority <= 8:
		return PriorityHigh
	case priority == 9:
		return PriorityVeryHigh
	default:
		return PriorityHighest
	}
}

// TransportMessage is the wire envelope exchanged with a transport,
// per the §6 field layout.
type TransportMessage struct {
	MessageID           string
	CorrelationID        string
	CausationID          string
	Payload              []byte
	ContentType           string
	ContentEncoding       string
	MessageType           string
	Source                string
	Destination           string
	ReplyTo               string
	Timestamp             time.Time
	ExpiresAt             *time.Time
	Priority              int
	Persistent            bool
	DeliveryAttempts      int
	Headers               map[string]any
	TransportProperties   map[string]any
}

// FromMessage encodes a Message into a TransportMessage bound for
// destination, with sane defaults for contentType, priority and
// persistence.
func FromMessage(m *Message, destination, replyTo string) *TransportMessage {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &TransportMessage{
		MessageID:     id,
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		Payload:       m.Payload,
		ContentType:   "application/json",
		MessageType:   m.Type,
		Destination:   destination,
		ReplyTo:       replyTo,
		Timestamp:     m.Timestamp,
		Priority:      5,
		Persistent:    true,
		Headers:       m.Headers,
	}
}

// ToMessage decodes a TransportMessage back into an application-level
// Message (e.g. after a correlator hands it to the dispatcher).
func (t *TransportMessage) ToMessage(kind Kind) *Message {
	return &Message{
		ID:            t.MessageID,
		CorrelationID: t.CorrelationID,
		CausationID:   t.CausationID,
		Type:          t.MessageType,
		Kind:          kind,
		Headers:       t.Headers,
		Timestamp:     t.Timestamp,
		Payload:       t.Payload,
	}
}

// IsExpired reports whether ExpiresAt has already passed. A
// TransportMessage with an expired ExpiresAt is never delivered to a
// handler, per the data-model invariant.
func (t *TransportMessage) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}
