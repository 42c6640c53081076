package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

func tmsg(payload string) *message.TransportMessage {
	m := message.New(message.KindEvent, "test.event", []byte(payload))
	return message.FromMessage(m, "queue://orders", "")
}

func TestInMemory_SendBeforeConnect_Fails(t *testing.T) {
	tr := NewInMemory("mem")
	err := tr.Send(context.Background(), tmsg("x"), "queue://orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserrors.ErrNotConnected))
}

func TestInMemory_DestinationSpecificDelivery(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))

	var mu sync.Mutex
	var got []string
	_, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error {
		mu.Lock()
		got = append(got, string(m.Payload))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), tmsg("hello"), "queue://orders"))
	require.NoError(t, tr.Send(context.Background(), tmsg("ignored"), "queue://other"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, got)
}

func TestInMemory_GlobalHandlerReceivesEverything(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))

	var mu sync.Mutex
	var got []string
	_, err := tr.Subscribe(context.Background(), "", func(ctx context.Context, m *message.TransportMessage) error {
		mu.Lock()
		got = append(got, string(m.Payload))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), tmsg("a"), "queue://x"))
	require.NoError(t, tr.Send(context.Background(), tmsg("b"), "queue://y"))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestInMemory_UnsubscribeIsIdempotent(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))
	sub, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error { return nil })
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.Active())
}

func TestInMemory_PauseResume(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))

	var count int
	var mu sync.Mutex
	sub, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	sub.Pause()
	require.NoError(t, tr.Send(context.Background(), tmsg("a"), "queue://orders"))
	sub.Resume()
	require.NoError(t, tr.Send(context.Background(), tmsg("b"), "queue://orders"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestInMemory_DisconnectDropsHandlers(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))
	sub, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error { return nil })
	require.NoError(t, err)

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.False(t, sub.Active())

	err = tr.Send(context.Background(), tmsg("x"), "queue://orders")
	assert.Error(t, err, "sending after disconnect must fail")
}

// TestStatisticsMonotonicity implements the §8 "Transport statistics
// monotonicity" property: sent/received counters never decrease.
func TestStatisticsMonotonicity(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))
	_, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error { return nil })
	require.NoError(t, err)

	var prev Statistics
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Send(context.Background(), tmsg("x"), "queue://orders"))
		cur := tr.GetStatistics()
		assert.GreaterOrEqual(t, cur.MessagesSent, prev.MessagesSent)
		assert.GreaterOrEqual(t, cur.BytesSent, prev.BytesSent)
		assert.GreaterOrEqual(t, cur.MessagesReceived, prev.MessagesReceived)
		assert.GreaterOrEqual(t, cur.BytesReceived, prev.BytesReceived)
		prev = cur
	}
	assert.Equal(t, int64(5), prev.MessagesSent)
}

func TestDispose_UnsubscribesAndDisconnects(t *testing.T) {
	tr := NewInMemory("mem")
	require.NoError(t, tr.Connect(context.Background()))
	sub, err := tr.Subscribe(context.Background(), "queue://orders", func(ctx context.Context, m *message.TransportMessage) error { return nil })
	require.NoError(t, err)

	require.NoError(t, tr.Dispose(context.Background()))
	assert.False(t, sub.Active())
}
