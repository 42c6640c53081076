// Package flowcontrol implements the §4.6 flow controller: a
// concurrency semaphore and token-bucket rate limiter guarding
// admission to the dispatcher, with a priority-aware waiting set and
// backpressure rejection once that set overflows.
//
// Fairness guarantee (§9 open question): within the waiting set,
// AcquirePermit always grants the highest-priority waiter next;
// among waiters of equal priority it is FIFO. A sustained stream of
// high-priority callers can starve a low-priority waiter indefinitely
// — this implementation does not bound priority inversion by aging
// waiters, since the source spec leaves the policy unspecified.
package flowcontrol

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// ReleaseFunc returns an acquired permit to the pool. Calling it more
// than once is a no-op.
type ReleaseFunc func()

type waitItem struct {
	priority int
	seq      int64
	index    int
}

type waitHeap []*waitItem

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO within a priority class
}
func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *waitHeap) Push(x any) {
	item := x.(*waitItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// FlowController gates admission to the dispatcher per §4.6.
type FlowController struct {
	MaxConcurrentMessages int
	MaxQueueSize          int

	limiter *rate.Limiter

	mu       sync.Mutex
	waiting  waitHeap
	seq      int64
	inFlight int
	notifyCh chan struct{}

	rejectedCount atomic.Int64
}

// New constructs a FlowController admitting at most maxConcurrent
// in-flight messages, refilling rateLimitPerSecond tokens per second,
// and rejecting admission once maxQueueSize waiters are outstanding.
func New(maxConcurrent int, rateLimitPerSecond float64, maxQueueSize int) *FlowController {
	burst := maxConcurrent
	if burst < 1 {
		burst = 1
	}
	return &FlowController{
		MaxConcurrentMessages: maxConcurrent,
		MaxQueueSize:          maxQueueSize,
		limiter:               rate.NewLimiter(rate.Limit(rateLimitPerSecond), burst),
		notifyCh:              make(chan struct{}),
	}
}

func (f *FlowController) wakeLocked() {
	close(f.notifyCh)
	f.notifyCh = make(chan struct{})
}

func (f *FlowController) removeLocked(item *waitItem) {
	if item.index < 0 || item.index >= len(f.waiting) {
		return
	}
	heap.Remove(&f.waiting, item.index)
}

// AcquirePermit blocks until admission is granted for the given
// priority (0-10, higher serves first), the rate limiter yields a
// token, ctx is cancelled, or the waiting set is already full (an
// immediate BackpressureRejected failure).
func (f *FlowController) AcquirePermit(ctx context.Context, priority int) (ReleaseFunc, error) {
	f.mu.Lock()
	if len(f.waiting) >= f.MaxQueueSize && f.MaxQueueSize > 0 {
		f.mu.Unlock()
		f.rejectedCount.Add(1)
		return nil, buserrors.New(buserrors.CategoryBusiness, buserrors.SeverityMedium, "flowcontroller", "AcquirePermit", buserrors.ErrBackpressureRejected)
	}

	item := &waitItem{priority: priority, seq: f.seq}
	f.seq++
	heap.Push(&f.waiting, item)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		isFront := len(f.waiting) > 0 && f.waiting[0] == item
		canAdmit := isFront && f.inFlight < f.MaxConcurrentMessages
		ch := f.notifyCh
		f.mu.Unlock()

		if canAdmit {
			if err := f.limiter.Wait(ctx); err != nil {
				f.mu.Lock()
				f.removeLocked(item)
				f.wakeLocked()
				f.mu.Unlock()
				return nil, err
			}

			f.mu.Lock()
			f.removeLocked(item)
			f.inFlight++
			f.wakeLocked()
			f.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					f.mu.Lock()
					f.inFlight--
					f.wakeLocked()
					f.mu.Unlock()
				})
			}
			return release, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			f.mu.Lock()
			f.removeLocked(item)
			f.wakeLocked()
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// QueueDepth reports the number of callers currently waiting.
func (f *FlowController) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiting)
}

// InFlight reports the number of permits currently held.
func (f *FlowController) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// RejectedCount reports how many AcquirePermit calls were rejected
// outright due to backpressure.
func (f *FlowController) RejectedCount() int64 {
	return f.rejectedCount.Load()
}

// IsHealthy reports false once the waiting set exceeds 90% of
// MaxQueueSize, per §4.6.
func (f *FlowController) IsHealthy() bool {
	if f.MaxQueueSize <= 0 {
		return true
	}
	return float64(f.QueueDepth()) <= 0.9*float64(f.MaxQueueSize)
}
