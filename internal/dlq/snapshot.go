package dlq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/conduit-bus/conduit/internal/message"
)

// snapshotEntry is the JSON-safe projection of Entry: Cause is
// flattened to its message text since arbitrary errors do not
// round-trip through encoding/json.
type snapshotEntry struct {
	ID            string          `json:"id"`
	Message       *message.Message `json:"message"`
	CorrelationID string          `json:"correlationId"`
	MessageType   string          `json:"messageType"`
	ErrorType     string          `json:"errorType"`
	Cause         string          `json:"cause"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

// Snapshot serializes the current {entryId -> DeadLetterEntry}
// mapping to JSON, preserving the enqueue timestamp, so an external
// collaborator can persist it across restarts.
func (d *DLQ) Snapshot() ([]byte, error) {
	entries := d.GetAll()
	out := make([]snapshotEntry, 0, len(entries))
	for _, e := range entries {
		cause := ""
		if e.Cause != nil {
			cause = e.Cause.Error()
		}
		out = append(out, snapshotEntry{
			ID:            e.ID,
			Message:       e.Message,
			CorrelationID: e.CorrelationID,
			MessageType:   e.MessageType,
			ErrorType:     e.ErrorType,
			Cause:         cause,
			EnqueuedAt:    e.EnqueuedAt,
		})
	}
	return json.Marshal(out)
}

// Restore replaces the DLQ's contents with the entries encoded in
// data, preserving enqueue order and timestamps without firing
// MessageAdded for each (no traffic actually occurred).
func (d *DLQ) Restore(data []byte) error {
	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = make(map[string]*Entry, len(entries))
	d.order = d.order[:0]
	var total int64
	for _, se := range entries {
		var cause error
		if se.Cause != "" {
			cause = errors.New(se.Cause)
		}
		d.entries[se.ID] = &Entry{
			ID:            se.ID,
			Message:       se.Message,
			CorrelationID: se.CorrelationID,
			MessageType:   se.MessageType,
			ErrorType:     se.ErrorType,
			Cause:         cause,
			EnqueuedAt:    se.EnqueuedAt,
		}
		d.order = append(d.order, se.ID)
		total++
	}
	d.totalEnqueued = total
	return nil
}
