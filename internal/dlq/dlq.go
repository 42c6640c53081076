// Package dlq implements the §4.5 dead-letter queue: a bounded
// entryId → DeadLetterEntry mapping with oldest-first eviction beyond
// capacity and event hooks for observability.
package dlq

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

// Entry is one quarantined message, retained until reprocessed,
// expired by retention, or evicted by capacity.
type Entry struct {
	ID            string
	Message       *message.Message
	CorrelationID string
	MessageType   string
	ErrorType     string
	Cause         error
	EnqueuedAt    time.Time
}

// Hooks are the optional event callbacks: MessageAdded on Add,
// MessageExpired for an entry Add evicts at capacity,
// MessageReprocessed on a successful Reprocess, and MessageRemoved for
// each entry Sweep drops. A failed Reprocess and Restore fire none.
type Hooks struct {
	MessageAdded      func(e *Entry)
	MessageRemoved    func(e *Entry)
	MessageReprocessed func(e *Entry)
	MessageExpired    func(e *Entry)
}

// DLQ is the bounded dead-letter store of §4.5. All mutations are
// serialized under mu; reads take a snapshot copy so callers never
// observe a torn entry.
type DLQ struct {
	MaxCapacity     int
	RetentionPeriod time.Duration
	Hooks           Hooks

	mu            sync.Mutex
	order         []string // oldest-first entry IDs
	entries       map[string]*Entry
	totalEnqueued int64
}

// New constructs a DLQ bounded to maxCapacity entries (0 means
// unbounded) with the given retention period for the sweeper.
func New(maxCapacity int, retentionPeriod time.Duration) *DLQ {
	return &DLQ{
		MaxCapacity:     maxCapacity,
		RetentionPeriod: retentionPeriod,
		entries:         make(map[string]*Entry),
	}
}

// Add quarantines msg with its triggering cause, evicting the oldest
// entry first if capacity has been reached.
func (d *DLQ) Add(msg *message.Message, cause error) *Entry {
	errType := "unknown"
	if cause != nil {
		errType = classifyErrorType(cause)
	}

	entry := &Entry{
		ID:            uuid.NewString(),
		Message:       msg,
		CorrelationID: msg.CorrelationID,
		MessageType:   msg.Type,
		ErrorType:     errType,
		Cause:         cause,
		EnqueuedAt:    time.Now(),
	}

	d.mu.Lock()
	var evicted *Entry
	if d.MaxCapacity > 0 && len(d.order) >= d.MaxCapacity {
		oldestID := d.order[0]
		d.order = d.order[1:]
		evicted = d.entries[oldestID]
		delete(d.entries, oldestID)
	}
	d.entries[entry.ID] = entry
	d.order = append(d.order, entry.ID)
	d.totalEnqueued++
	d.mu.Unlock()

	if evicted != nil && d.Hooks.MessageExpired != nil {
		d.Hooks.MessageExpired(evicted)
	}
	if d.Hooks.MessageAdded != nil {
		d.Hooks.MessageAdded(entry)
	}
	return entry
}

func classifyErrorType(cause error) string {
	be := buserrors.Classify(cause, "dlq", "Add")
	return be.Category.String()
}

// GetById returns the entry with the given ID, if present.
func (d *DLQ) GetById(id string) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// GetAll returns a snapshot of every entry, oldest first.
func (d *DLQ) GetAll() []*Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Entry, 0, len(d.order))
	for _, id := range d.order {
		cp := *d.entries[id]
		out = append(out, &cp)
	}
	return out
}

// GetByCorrelationId filters entries by correlation ID.
func (d *DLQ) GetByCorrelationId(correlationID string) []*Entry {
	return d.filter(func(e *Entry) bool { return e.CorrelationID == correlationID })
}

// GetByMessageType filters entries by message type tag.
func (d *DLQ) GetByMessageType(messageType string) []*Entry {
	return d.filter(func(e *Entry) bool { return e.MessageType == messageType })
}

// GetByErrorType filters entries by classified error category.
func (d *DLQ) GetByErrorType(errorType string) []*Entry {
	return d.filter(func(e *Entry) bool { return e.ErrorType == errorType })
}

func (d *DLQ) filter(pred func(*Entry) bool) []*Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Entry
	for _, id := range d.order {
		e := d.entries[id]
		if pred(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Reprocess redelivers an entry via redeliver. On success the entry is
// removed and MessageReprocessed fires. On failure, per §4.5, the
// entry is re-annotated in place with the new cause and stays queued
// for a later attempt instead of being dropped.
func (d *DLQ) Reprocess(id string, redeliver func(*message.Message) error) (*Entry, error) {
	d.mu.Lock()
	e, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return nil, buserrors.ErrDLQEntryNotFound
	}
	msg := e.Message
	d.mu.Unlock()

	if err := redeliver(msg); err != nil {
		d.mu.Lock()
		e.Cause = err
		e.ErrorType = classifyErrorType(err)
		cp := *e
		d.mu.Unlock()
		return &cp, err
	}

	d.mu.Lock()
	delete(d.entries, id)
	d.removeFromOrderLocked(id)
	d.mu.Unlock()

	if d.Hooks.MessageReprocessed != nil {
		d.Hooks.MessageReprocessed(e)
	}
	return e, nil
}

func (d *DLQ) removeFromOrderLocked(id string) {
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

// Count returns the number of entries currently held.
func (d *DLQ) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// TotalEnqueued returns the lifetime count of Add calls.
func (d *DLQ) TotalEnqueued() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalEnqueued
}

// Sweep evicts entries older than RetentionPeriod, firing
// MessageRemoved for each. Call periodically from a background task.
func (d *DLQ) Sweep() {
	if d.RetentionPeriod <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.RetentionPeriod)

	d.mu.Lock()
	var expired []*Entry
	var kept []string
	for _, id := range d.order {
		e := d.entries[id]
		if e.EnqueuedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(d.entries, id)
		} else {
			kept = append(kept, id)
		}
	}
	d.order = kept
	d.mu.Unlock()

	for _, e := range expired {
		if d.Hooks.MessageRemoved != nil {
			d.Hooks.MessageRemoved(e)
		}
	}
}
