package dlq

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-bus/conduit/internal/message"
)

func newMsg(typeTag string) *message.Message {
	return message.New(message.KindCommand, typeTag, []byte("payload"))
}

func TestAdd_FiresMessageAdded(t *testing.T) {
	var added *Entry
	d := New(10, 0)
	d.Hooks.MessageAdded = func(e *Entry) { added = e }

	msg := newMsg("order.create")
	entry := d.Add(msg, errors.New("boom"))

	require.NotNil(t, added)
	assert.Equal(t, entry.ID, added.ID)
	assert.Equal(t, msg.ID, entry.Message.ID)
	assert.Equal(t, int64(1), d.TotalEnqueued())
}

// TestDLQCapacity implements the §8 "DLQ capacity" property: after Add
// calls totalling capacity+k with k>0, Count == capacity and
// TotalEnqueued == capacity+k.
func TestDLQCapacity(t *testing.T) {
	const capacity = 3
	const k = 2
	var expired []*Entry
	d := New(capacity, 0)
	d.Hooks.MessageExpired = func(e *Entry) { expired = append(expired, e) }

	for i := 0; i < capacity+k; i++ {
		d.Add(newMsg("order.create"), errors.New("boom"))
	}

	assert.Equal(t, capacity, d.Count())
	assert.Equal(t, int64(capacity+k), d.TotalEnqueued())
	assert.Len(t, expired, k)
}

func TestEviction_IsOldestFirst(t *testing.T) {
	d := New(2, 0)
	first := d.Add(newMsg("a"), errors.New("e1"))
	d.Add(newMsg("b"), errors.New("e2"))
	d.Add(newMsg("c"), errors.New("e3")) // evicts `first`

	_, ok := d.GetById(first.ID)
	assert.False(t, ok, "oldest entry should have been evicted")

	all := d.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Message.Type)
	assert.Equal(t, "c", all[1].Message.Type)
}

func TestGetByCorrelationId(t *testing.T) {
	d := New(10, 0)
	msg := newMsg("order.create")
	d.Add(msg, errors.New("boom"))
	d.Add(newMsg("other"), errors.New("boom"))

	got := d.GetByCorrelationId(msg.CorrelationID)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].Message.ID)
}

func TestGetByMessageType(t *testing.T) {
	d := New(10, 0)
	d.Add(newMsg("order.create"), errors.New("boom"))
	d.Add(newMsg("order.cancel"), errors.New("boom"))

	got := d.GetByMessageType("order.cancel")
	require.Len(t, got, 1)
	assert.Equal(t, "order.cancel", got[0].MessageType)
}

func TestReprocess_RemovesAndFiresOnSuccess(t *testing.T) {
	var reprocessed *Entry
	d := New(10, 0)
	d.Hooks.MessageReprocessed = func(e *Entry) { reprocessed = e }

	entry := d.Add(newMsg("order.create"), errors.New("boom"))
	got, err := d.Reprocess(entry.ID, func(*message.Message) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.ID, reprocessed.ID)
	assert.Equal(t, 0, d.Count())

	_, err = d.Reprocess(entry.ID, func(*message.Message) error { return nil })
	assert.Error(t, err)
}

func TestReprocess_ReannotatesEntryOnFailure(t *testing.T) {
	var reprocessed *Entry
	d := New(10, 0)
	d.Hooks.MessageReprocessed = func(e *Entry) { reprocessed = e }

	entry := d.Add(newMsg("order.create"), errors.New("boom"))
	redeliverErr := errors.New("still unreachable")

	got, err := d.Reprocess(entry.ID, func(*message.Message) error { return redeliverErr })

	assert.ErrorIs(t, err, redeliverErr)
	require.NotNil(t, got)
	assert.Equal(t, redeliverErr, got.Cause)
	assert.Nil(t, reprocessed, "MessageReprocessed must not fire on a failed redelivery")

	// The entry stays queued, re-annotated, for a later attempt.
	assert.Equal(t, 1, d.Count())
	stored, ok := d.GetById(entry.ID)
	require.True(t, ok)
	assert.Equal(t, redeliverErr, stored.Cause)
}

func TestSweep_EvictsByRetention(t *testing.T) {
	var removed []*Entry
	d := New(10, 10*time.Millisecond)
	d.Hooks.MessageRemoved = func(e *Entry) { removed = append(removed, e) }

	d.Add(newMsg("order.create"), errors.New("boom"))
	time.Sleep(30 * time.Millisecond)
	d.Sweep()

	assert.Equal(t, 0, d.Count())
	assert.Len(t, removed, 1)
}
