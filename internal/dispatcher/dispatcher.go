package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/dlq"
	"github.com/conduit-bus/conduit/internal/flowcontrol"
	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/registry"
)

// TypeStatistics tracks per-message-type dispatch outcomes.
type TypeStatistics struct {
	Sent      int64
	Succeeded int64
	Failed    int64
}

// Dispatcher implements §4.2: SendCommand/SendQuery/Publish, gated by
// the FlowController, wrapped in the behavior pipeline, with terminal
// failures handed to the DLQ.
type Dispatcher struct {
	Registry *registry.Registry
	Flow     *flowcontrol.FlowController
	DLQ      *dlq.DLQ
	Logger   *slog.Logger

	Config    PipelineConfig
	Behaviors []Behavior

	mu    sync.Mutex
	stats map[string]*TypeStatistics
}

// New builds a Dispatcher. behaviors, if non-empty, is the decorator
// chain Compose wraps around each handler invocation; pass none to
// run handlers undecorated.
func New(reg *registry.Registry, flow *flowcontrol.FlowController, deadLetter *dlq.DLQ, logger *slog.Logger, cfg PipelineConfig, behaviors ...Behavior) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Registry:  reg,
		Flow:      flow,
		DLQ:       deadLetter,
		Logger:    logger,
		Config:    cfg,
		Behaviors: behaviors,
		stats:     make(map[string]*TypeStatistics),
	}
}

func (d *Dispatcher) statFor(msgType string) *TypeStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[msgType]
	if !ok {
		s = &TypeStatistics{}
		d.stats[msgType] = s
	}
	return s
}

// Statistics returns a snapshot of every message type's counters.
func (d *Dispatcher) Statistics() map[string]TypeStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]TypeStatistics, len(d.stats))
	for k, v := range d.stats {
		out[k] = TypeStatistics{Sent: v.Sent, Succeeded: v.Succeeded, Failed: v.Failed}
	}
	return out
}

// admit asks the FlowController for a permit keyed by msgCtx.Priority,
// per §4.2 step 1.
func (d *Dispatcher) admit(ctx context.Context, msgCtx *message.MessageContext) (flowcontrol.ReleaseFunc, error) {
	if d.Flow == nil {
		return func() {}, nil
	}
	return d.Flow.AcquirePermit(ctx, msgCtx.Priority)
}

// onTerminalFailure hands a message to the DLQ once resilience has
// exhausted, per §4.2 step 4.
func (d *Dispatcher) onTerminalFailure(msgCtx *message.MessageContext, cause error) {
	if d.DLQ == nil || !d.Config.DeadLetterEnabled {
		return
	}
	d.DLQ.Add(msgCtx.Message, cause)
}

// SendCommand dispatches msg to its exclusive command handler.
func (d *Dispatcher) SendCommand(ctx context.Context, msg *message.Message) (any, error) {
	handler, ok := d.Registry.GetCommandHandler(msg.Type)
	if !ok {
		return nil, buserrors.New(buserrors.CategoryDependency, buserrors.SeverityMedium, "dispatcher", "SendCommand", buserrors.ErrHandlerNotFound)
	}
	return d.invoke(ctx, msg, func(msgCtx *message.MessageContext) (any, error) {
		return handler(msgCtx)
	})
}

// SendQuery dispatches msg to its exclusive query handler.
func (d *Dispatcher) SendQuery(ctx context.Context, msg *message.Message) (any, error) {
	handler, ok := d.Registry.GetQueryHandler(msg.Type)
	if !ok {
		return nil, buserrors.New(buserrors.CategoryDependency, buserrors.SeverityMedium, "dispatcher", "SendQuery", buserrors.ErrHandlerNotFound)
	}
	return d.invoke(ctx, msg, func(msgCtx *message.MessageContext) (any, error) {
		return handler(msgCtx)
	})
}

// invoke is the shared admission + pipeline + statistics path for
// SendCommand and SendQuery.
func (d *Dispatcher) invoke(ctx context.Context, msg *message.Message, terminal func(*message.MessageContext) (any, error)) (any, error) {
	msgCtx := message.NewContext(msg)
	stats := d.statFor(msg.Type)
	atomic.AddInt64(&stats.Sent, 1)

	release, err := d.admit(ctx, msgCtx)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		return nil, err
	}
	defer release()

	h := Compose(func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
		return terminal(msgCtx)
	}, d.Behaviors...)

	result, err := h(ctx, msgCtx)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		d.onTerminalFailure(msgCtx, err)
		return nil, err
	}
	atomic.AddInt64(&stats.Succeeded, 1)
	msgCtx.Acknowledge()
	return result, nil
}

// Publish fans event out to every handler registered for msg.Type, per
// §4.2 step 3. ErrorStrategyFailFast aborts on the first handler
// error; ErrorStrategyContinue (the default) runs every handler and
// joins their errors; ErrorStrategyDeadLetter runs every handler and,
// if any fail, sends the message to the DLQ once with their joined
// error.
func (d *Dispatcher) Publish(ctx context.Context, msg *message.Message) error {
	handlers := d.Registry.GetEventHandlers(msg.Type)
	stats := d.statFor(msg.Type)
	atomic.AddInt64(&stats.Sent, 1)

	if len(handlers) == 0 {
		atomic.AddInt64(&stats.Succeeded, 1)
		return nil
	}

	msgCtx := message.NewContext(msg)
	release, err := d.admit(ctx, msgCtx)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		return err
	}
	defer release()

	run := func(handler registry.EventHandler) error {
		h := Compose(func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			return nil, handler(msgCtx)
		}, d.Behaviors...)
		_, err := h(ctx, msgCtx)
		return err
	}

	var failErr error
	switch d.Config.ErrorStrategy {
	case ErrorStrategyFailFast:
		for _, handler := range handlers {
			if err := run(handler); err != nil {
				failErr = err
				break
			}
		}
	default:
		var g errgroup.Group
		if d.Config.MaxConcurrency > 0 {
			g.SetLimit(d.Config.MaxConcurrency)
		}
		errs := make([]error, len(handlers))
		for i, handler := range handlers {
			i, handler := i, handler
			g.Go(func() error {
				errs[i] = run(handler)
				return nil
			})
		}
		g.Wait()
		failErr = errors.Join(errs...)
	}

	if failErr != nil {
		atomic.AddInt64(&stats.Failed, 1)
		if d.Config.ErrorStrategy == ErrorStrategyDeadLetter {
			d.onTerminalFailure(msgCtx, failErr)
		}
		return failErr
	}
	atomic.AddInt64(&stats.Succeeded, 1)
	msgCtx.Acknowledge()
	return nil
}
