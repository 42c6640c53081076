package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/dlq"
	"github.com/conduit-bus/conduit/internal/flowcontrol"
	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/registry"
)

func newDispatcher(cfg PipelineConfig, behaviors ...Behavior) (*Dispatcher, *registry.Registry, *flowcontrol.FlowController, *dlq.DLQ) {
	reg := registry.New()
	flow := flowcontrol.New(10, 1000, 100)
	deadLetter := dlq.New(10, time.Hour)
	return New(reg, flow, deadLetter, nil, cfg, behaviors...), reg, flow, deadLetter
}

func TestSendCommand_DispatchesToExclusiveHandler(t *testing.T) {
	d, reg, _, _ := newDispatcher(DefaultPipelineConfig())
	require.NoError(t, reg.RegisterCommandHandler("order.create", func(ctx *message.MessageContext) (any, error) {
		return "created", nil
	}))

	msg := message.New(message.KindCommand, "order.create", nil)
	result, err := d.SendCommand(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "created", result)

	stats := d.Statistics()["order.create"]
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestSendCommand_NoHandlerReturnsNotFound(t *testing.T) {
	d, _, _, _ := newDispatcher(DefaultPipelineConfig())
	msg := message.New(message.KindCommand, "order.missing", nil)
	_, err := d.SendCommand(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserrors.ErrHandlerNotFound))
}

func TestSendCommand_TerminalFailureGoesToDLQ(t *testing.T) {
	d, reg, _, deadLetter := newDispatcher(DefaultPipelineConfig())
	require.NoError(t, reg.RegisterCommandHandler("order.create", func(ctx *message.MessageContext) (any, error) {
		return nil, errors.New("boom")
	}))

	msg := message.New(message.KindCommand, "order.create", nil)
	_, err := d.SendCommand(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, 1, deadLetter.Count())
}

func TestPublish_ContinueOnErrorRunsEveryHandler(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.ErrorStrategy = ErrorStrategyContinue
	d, reg, _, _ := newDispatcher(cfg)

	var calledA, calledB bool
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		calledA = true
		return errors.New("handler a failed")
	})
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		calledB = true
		return nil
	})

	msg := message.New(message.KindEvent, "order.created", nil)
	err := d.Publish(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, calledA)
	assert.True(t, calledB, "continue-on-error must still run the remaining handlers")
}

func TestPublish_ContinueOnErrorJoinsAllHandlerErrors(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.ErrorStrategy = ErrorStrategyContinue
	d, reg, _, _ := newDispatcher(cfg)

	errA := errors.New("handler a failed")
	errB := errors.New("handler b failed")
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error { return errA })
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error { return errB })

	msg := message.New(message.KindEvent, "order.created", nil)
	err := d.Publish(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA), "composite error must wrap handler a's failure")
	assert.True(t, errors.Is(err, errB), "composite error must wrap handler b's failure")
}

func TestPublish_FailFastStopsAtFirstError(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.ErrorStrategy = ErrorStrategyFailFast
	d, reg, _, _ := newDispatcher(cfg)

	var calledB bool
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		return errors.New("first fails")
	})
	reg.RegisterEventHandler("order.created", func(ctx *message.MessageContext) error {
		calledB = true
		return nil
	})

	msg := message.New(message.KindEvent, "order.created", nil)
	err := d.Publish(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, calledB, "fail-fast must not run handlers registered after the first failure is observed")
}

func TestPublish_NoHandlersIsSuccess(t *testing.T) {
	d, _, _, _ := newDispatcher(DefaultPipelineConfig())
	msg := message.New(message.KindEvent, "nothing.subscribed", nil)
	assert.NoError(t, d.Publish(context.Background(), msg))
}

func TestInvoke_BackpressureRejectsWhenQueueFull(t *testing.T) {
	reg := registry.New()
	block := make(chan struct{})
	require.NoError(t, reg.RegisterCommandHandler("slow", func(ctx *message.MessageContext) (any, error) {
		<-block
		return nil, nil
	}))
	// One concurrent slot and a one-deep wait queue: the first call
	// occupies the slot, the second queues, and a third must be
	// rejected immediately.
	flow := flowcontrol.New(1, 1000, 1)
	d := New(reg, flow, nil, nil, DefaultPipelineConfig())

	var done sync.WaitGroup
	done.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer done.Done()
			d.SendCommand(context.Background(), message.New(message.KindCommand, "slow", nil))
		}()
	}
	time.Sleep(30 * time.Millisecond)

	_, err := d.SendCommand(context.Background(), message.New(message.KindCommand, "slow", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserrors.ErrBackpressureRejected))

	close(block)
	done.Wait()
}
