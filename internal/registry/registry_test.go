package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

func h1(ctx *message.MessageContext) (any, error) { return "h1", nil }
func h2(ctx *message.MessageContext) (any, error) { return "h2", nil }

func TestRegisterCommandHandler_Exclusivity(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterCommandHandler("order.create", h1))

	err := r.RegisterCommandHandler("order.create", h2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserrors.ErrHandlerAlreadyRegistered))

	got, ok := r.GetCommandHandler("order.create")
	require.True(t, ok)
	res, _ := got(nil)
	assert.Equal(t, "h1", res, "the first registration must win")
}

func TestRegisterQueryHandler_Exclusivity(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterQueryHandler("order.get", QueryHandler(h1)))
	err := r.RegisterQueryHandler("order.get", QueryHandler(h2))
	require.Error(t, err)
}

func TestRegisterEventHandler_Set(t *testing.T) {
	r := New()
	var calls []string
	var mu sync.Mutex

	r.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		mu.Lock()
		calls = append(calls, "a")
		mu.Unlock()
		return nil
	})
	r.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		mu.Lock()
		calls = append(calls, "b")
		mu.Unlock()
		return nil
	})

	handlers := r.GetEventHandlers("order.created")
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		_ = h(nil)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, calls)
}

func TestGetEventHandlers_EmptySet(t *testing.T) {
	r := New()
	assert.Empty(t, r.GetEventHandlers("nothing.registered"))
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterCommandHandler("order.create", h1))

	assert.True(t, r.UnregisterCommandHandler("order.create"))
	assert.False(t, r.UnregisterCommandHandler("order.create"))

	_, ok := r.GetCommandHandler("order.create")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterCommandHandler("a", h1))
	r.RegisterEventHandler("b", func(ctx *message.MessageContext) error { return nil })

	r.Clear()

	_, ok := r.GetCommandHandler("a")
	assert.False(t, ok)
	assert.Empty(t, r.GetEventHandlers("b"))
}

// TestConcurrentReadDuringRegistration exercises the invariant that a
// concurrent Get never observes a partially registered binding: every
// read either sees the handler fully installed or not installed.
func TestConcurrentReadDuringRegistration(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.GetCommandHandler("order.create")
			}
		}
	}()

	require.NoError(t, r.RegisterCommandHandler("order.create", h1))
	close(stop)
	wg.Wait()

	got, ok := r.GetCommandHandler("order.create")
	require.True(t, ok)
	res, _ := got(nil)
	assert.Equal(t, "h1", res)
}
