package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_AutoGeneratesID(t *testing.T) {
	m := New(KindCommand, "order.create", []byte(`{"id":"O-1"}`))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, m.ID, m.CorrelationID, "a root message correlates with itself")
}

func TestDerive_PropagatesCorrelationID(t *testing.T) {
	parent := New(KindCommand, "order.create", nil)
	child := parent.Derive(KindEvent, "order.created", nil)

	assert.Equal(t, parent.CorrelationID, child.CorrelationID)
	assert.Equal(t, parent.ID, child.CausationID)
	assert.NotEqual(t, parent.ID, child.ID)
}

func TestMessageContext_ScratchItems(t *testing.T) {
	ctx := NewContext(New(KindQuery, "order.get", nil))
	ctx.Set("traceID", "abc")

	v, ok := ctx.Get("traceID")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = ctx.Get("missing")
	assert.False(t, ok)
}

func TestMessageContext_Child(t *testing.T) {
	root := NewContext(New(KindCommand, "order.create", nil))
	root.Priority = 8

	child := root.Child(New(KindEvent, "order.created", nil))
	assert.Equal(t, root, child.Parent)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 8, child.Priority)
}

func TestParseDestination_DefaultsToQueue(t *testing.T) {
	d := ParseDestination("orders")
	assert.Equal(t, DestinationQueue, d.Kind)
	assert.Equal(t, "orders", d.Name)

	d2 := ParseDestination("topic://alerts")
	assert.Equal(t, DestinationTopic, d2.Kind)
	assert.Equal(t, "alerts", d2.Name)
}

func TestBucket_CanonicalMapping(t *testing.T) {
	assert.Equal(t, PriorityLowest, Bucket(0))
	assert.Equal(t, PriorityVeryLow, Bucket(2))
	assert.Equal(t, PriorityLow, Bucket(4))
	assert.Equal(t, PriorityNormal, Bucket(6))
	assert.Equal(t, PriorityHigh, Bucket(7))
	assert.Equal(t, PriorityVeryHigh, Bucket(9))
	assert.Equal(t, PriorityHighest, Bucket(10))
}

func TestTransportMessage_IsExpired(t *testing.T) {
	tm := &TransportMessage{}
	assert.False(t, tm.IsExpired())
}
