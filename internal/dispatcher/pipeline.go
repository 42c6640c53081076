// Package dispatcher implements the §4.2 dispatcher and its §4.2.1
// behavior pipeline: admission through the FlowController, a
// decorator chain of cross-cutting behaviors around the handler
// invocation, and terminal-failure hand-off to the DLQ.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/resilience"
	"github.com/conduit-bus/conduit/pkg/logger"
)

// HandlerFunc is the innermost unit a behavior pipeline wraps: it
// takes a MessageContext and yields a result or an error. Behaviors
// must not mutate msgCtx.Message in place; they may attach scratch
// items via MessageContext.Set.
type HandlerFunc func(ctx context.Context, msgCtx *message.MessageContext) (any, error)

// Behavior wraps next with one pipeline concern and returns the
// decorated HandlerFunc.
type Behavior func(next HandlerFunc) HandlerFunc

// ErrorStrategy controls how a fan-out failure is reported.
type ErrorStrategy int

const (
	ErrorStrategyFailFast ErrorStrategy = iota
	ErrorStrategyContinue
	ErrorStrategyDeadLetter
)

// PipelineConfig enumerates the §4.2.1 configuration knobs.
type PipelineConfig struct {
	IsEnabled            bool
	AsyncExecution       bool
	MaxConcurrency       int
	Timeout              time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	PreserveOrder        bool
	FailFast             bool
	CacheEnabled         bool
	ErrorStrategy        ErrorStrategy
	DefaultTimeout       time.Duration
	DefaultCacheDuration time.Duration
	MetricsEnabled       bool
	TracingEnabled       bool
	MaxCacheSize         int
	ValidationEnabled    bool
	DeadLetterEnabled    bool
}

// DefaultPipelineConfig matches the teacher's own defaults: enabled,
// a 30s timeout, 3 retries, and dead-lettering on by default.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		IsEnabled:            true,
		MaxConcurrency:       16,
		Timeout:              30 * time.Second,
		MaxRetries:           3,
		RetryDelay:           100 * time.Millisecond,
		ErrorStrategy:        ErrorStrategyContinue,
		DefaultTimeout:       30 * time.Second,
		DefaultCacheDuration: time.Minute,
		MetricsEnabled:       true,
		TracingEnabled:       true,
		MaxCacheSize:         1000,
		ValidationEnabled:    true,
		DeadLetterEnabled:    true,
	}
}

// Compose builds the decorator chain around terminal. behaviors[0] is
// the outermost wrapper (runs first on the way in, last on the way
// out); later entries nest progressively deeper, matching a LIFO
// unwind on return.
func Compose(terminal HandlerFunc, behaviors ...Behavior) HandlerFunc {
	h := terminal
	for i := len(behaviors) - 1; i >= 0; i-- {
		h = behaviors[i](h)
	}
	return h
}

// Validator checks a message before it reaches the handler.
type Validator func(msgCtx *message.MessageContext) error

// ValidationBehavior rejects messages failing validate without
// invoking the handler, when cfg.ValidationEnabled is set.
func ValidationBehavior(cfg PipelineConfig, validate Validator) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			if cfg.ValidationEnabled && validate != nil {
				if err := validate(msgCtx); err != nil {
					return nil, err
				}
			}
			return next(ctx, msgCtx)
		}
	}
}

// Authorizer decides whether a message may proceed.
type Authorizer func(msgCtx *message.MessageContext) error

// AuthorizationBehavior rejects messages failing authorize.
func AuthorizationBehavior(authorize Authorizer) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			if authorize != nil {
				if err := authorize(msgCtx); err != nil {
					return nil, err
				}
			}
			return next(ctx, msgCtx)
		}
	}
}

// LoggingBehavior logs entry/exit around the handler via baseLogger,
// attaching the correlation id to the context, when cfg.TracingEnabled
// is set.
func LoggingBehavior(cfg PipelineConfig, baseLogger *slog.Logger) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			if !cfg.TracingEnabled {
				return next(ctx, msgCtx)
			}
			ctx = logger.WithCorrelationID(ctx, msgCtx.Message.CorrelationID)
			log := logger.FromContext(ctx, baseLogger)

			start := time.Now()
			log.Debug("dispatch started", "type", msgCtx.Message.Type)
			result, err := next(ctx, msgCtx)
			log.Debug("dispatch finished", "type", msgCtx.Message.Type, "elapsed", time.Since(start), "error", err)
			return result, err
		}
	}
}

// CachingBehavior memoizes successful results by message type and
// payload for cfg.DefaultCacheDuration, bounded at cfg.MaxCacheSize
// entries. It is intended for idempotent queries.
func CachingBehavior(cfg PipelineConfig) Behavior {
	if !cfg.CacheEnabled {
		return func(next HandlerFunc) HandlerFunc { return next }
	}

	size := cfg.MaxCacheSize
	if size <= 0 {
		size = 1000
	}
	cache, _ := lru.New[string, cacheEntry](size)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			key := msgCtx.Message.Type + ":" + string(msgCtx.Message.Payload)
			if entry, ok := cache.Get(key); ok && time.Since(entry.at) < cfg.DefaultCacheDuration {
				return entry.value, nil
			}

			result, err := next(ctx, msgCtx)
			if err == nil {
				cache.Add(key, cacheEntry{value: result, at: time.Now()})
			}
			return result, err
		}
	}
}

type cacheEntry struct {
	value any
	at    time.Time
}

// TimeoutBehavior bounds the handler invocation to cfg.Timeout (or
// DefaultTimeout if unset).
func TimeoutBehavior(cfg PipelineConfig) Behavior {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			if timeout <= 0 {
				return next(ctx, msgCtx)
			}
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(tctx, msgCtx)
		}
	}
}

// RetryBehavior retries a failing handler per policy, counting
// attempts onto msgCtx.RetryCount.
func RetryBehavior(policy *resilience.RetryPolicy) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			var result any
			err := policy.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				result, innerErr = next(ctx, msgCtx)
				msgCtx.RetryCount++
				return innerErr
			})
			return result, err
		}
	}
}

// FallbackBehavior runs a fallback value/action when the handler
// fails.
func FallbackBehavior(policy *resilience.FallbackPolicy) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			var result any
			err := policy.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				result, innerErr = next(ctx, msgCtx)
				return innerErr
			})
			return result, err
		}
	}
}

// CircuitBreakerBehavior short-circuits the handler while the breaker
// is open.
func CircuitBreakerBehavior(cb *resilience.CircuitBreaker) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			var result any
			err := cb.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				result, innerErr = next(ctx, msgCtx)
				return innerErr
			})
			return result, err
		}
	}
}

// CompensatingActionBehavior runs an undo action on handler failure.
func CompensatingActionBehavior(policy *resilience.CompensatingActionPolicy) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			var result any
			err := policy.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				result, innerErr = next(ctx, msgCtx)
				return innerErr
			})
			return result, err
		}
	}
}

// MetricsRecorder is the subset of pkg/busmetrics a behavior needs.
type MetricsRecorder interface {
	ObserveDispatch(messageType string, success bool, elapsed time.Duration)
}

// MetricsBehavior records dispatch outcome and latency when
// cfg.MetricsEnabled is set.
func MetricsBehavior(cfg PipelineConfig, rec MetricsRecorder) Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			if !cfg.MetricsEnabled || rec == nil {
				return next(ctx, msgCtx)
			}
			start := time.Now()
			result, err := next(ctx, msgCtx)
			rec.ObserveDispatch(msgCtx.Message.Type, err == nil, time.Since(start))
			return result, err
		}
	}
}

// CorrelationIDPropagationBehavior ensures a correlation id is present
// on the MessageContext's scratch items for downstream consumers
// (logging, the correlator, the error aggregator) before the handler
// runs.
func CorrelationIDPropagationBehavior() Behavior {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msgCtx *message.MessageContext) (any, error) {
			msgCtx.Set("correlationId", msgCtx.Message.CorrelationID)
			return next(ctx, msgCtx)
		}
	}
}
