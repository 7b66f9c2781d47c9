// Package scheduler implements the per-model Dynamic Batcher (spec.md
// §4.6): priority FIFO queues, bounded-latency batch formation, and
// handoff to a backend.Handle.
//
// Re-architecture (spec.md §9 "Scheduler → backend coupling"): the
// Manager builds one Scheduler per Handle at load time and never touches
// its internals again; Scheduler is a policy behind a uniform Enqueue
// surface so a future sequence-batching or ensemble scheduler can be
// swapped in without touching the Request contract.
//
// Grounded on Voskan-Apex-X/runtime/go/internal/service/batcher.go (queue
// channel + collect-until-window-or-full loop) and the teacher's
// internal/manager/queue_admission.go (pooled timer, context-aware waits).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modeld/internal/apierrors"
	"modeld/internal/backend"
	"modeld/internal/clock"
	"modeld/internal/request"
	"modeld/pkg/types"
)

// Outcome is a completed request's result, delivered exactly once on the
// channel Enqueue returns.
type Outcome struct {
	Outputs []types.Tensor
	Err     error
}

// Scheduler is the uniform per-Handle surface the Manager and callers use;
// engine is its one implementation, run in direct or dynamic-batching mode.
type Scheduler interface {
	// Enqueue hands a prepared, immutable Request to this scheduler. It
	// never blocks beyond queue-lock acquisition (spec.md §5 "Suspension
	// points"); the returned channel receives exactly one Outcome.
	Enqueue(req *request.Request) <-chan Outcome
	// Close stops the batch-formation loop. Already-queued requests are
	// failed with Unavailable.
	Close()
}

// New returns the scheduler appropriate for handle's configuration: an
// engine in direct mode when the model does not support framework batching
// (max_batch_size == 0), otherwise one in dynamic-batching mode (spec.md §4.4
// design note: "selected automatically"). reg may be nil, in which case
// queue-depth/batch-size/queue-wait metrics are tracked but never exposed
// (used by tests); the Manager passes its configured prometheus.Registerer
// in production so every per-model scheduler's Collectors() (spec.md §4.6
// supplement) reach /metrics without the caller re-registering by hand.
func New(handle backend.Handle, clk clock.Clock, logger zerolog.Logger, reg prometheus.Registerer) Scheduler {
	direct := handle.Config().MaxBatchSize <= 0
	e := newEngine(handle, clk, logger, direct)
	e.reg = reg
	if reg != nil {
		for _, c := range e.Collectors() {
			if err := reg.Register(c); err != nil {
				if _, dup := err.(prometheus.AlreadyRegisteredError); !dup {
					logger.Warn().Err(err).Msg("failed to register scheduler metric")
				}
			}
		}
	}
	return e
}

type item struct {
	req      *request.Request
	resultCh chan Outcome
}

// engine is the shared implementation behind both modes; direct mode
// simply skips the preferred-size wait and caps batch size at 1.
type engine struct {
	handle backend.Handle
	clk    clock.Clock
	logger zerolog.Logger
	direct bool
	reg    prometheus.Registerer

	mu      sync.Mutex
	queues  map[int][]*item // priority level -> FIFO
	notify  chan struct{}
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	queueDepth prometheus.Gauge
	batchSize  prometheus.Histogram
	queueWait  prometheus.Histogram
}

func newEngine(handle backend.Handle, clk clock.Clock, logger zerolog.Logger, direct bool) *engine {
	name := handle.Name()
	e := &engine{
		handle:  handle,
		clk:     clk,
		logger:  logger.With().Str("component", "scheduler").Str("model", name).Logger(),
		direct:  direct,
		queues:  make(map[int][]*item),
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modeld", Subsystem: "scheduler", Name: "queue_depth",
			ConstLabels: prometheus.Labels{"model": name},
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modeld", Subsystem: "scheduler", Name: "batch_size",
			ConstLabels: prometheus.Labels{"model": name},
			Buckets:     prometheus.LinearBuckets(1, 1, 16),
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modeld", Subsystem: "scheduler", Name: "queue_wait_seconds",
			ConstLabels: prometheus.Labels{"model": name},
		}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Collectors exposes this scheduler's metrics for registration.
func (e *engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{e.queueDepth, e.batchSize, e.queueWait}
}

func (e *engine) Enqueue(req *request.Request) <-chan Outcome {
	resultCh := make(chan Outcome, 1)
	req.SetEnqueuedAtMicros(e.clk.NowMicros())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		resultCh <- Outcome{Err: apierrors.Unavailable("scheduler closed")}
		return resultCh
	}
	level := req.Priority()
	if level <= 0 {
		level = 1
	}
	e.queues[level] = append(e.queues[level], &item{req: req, resultCh: resultCh})
	e.queueDepth.Inc()
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return resultCh
}

func (e *engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := e.drainAllLocked()
	e.mu.Unlock()
	close(e.closeCh)
	e.wg.Wait()
	if e.reg != nil {
		for _, c := range e.Collectors() {
			e.reg.Unregister(c)
		}
	}
	for _, it := range pending {
		it.resultCh <- Outcome{Err: apierrors.Unavailable("scheduler closed")}
	}
}

func (e *engine) drainAllLocked() []*item {
	var all []*item
	for lvl, q := range e.queues {
		all = append(all, q...)
		delete(e.queues, lvl)
	}
	return all
}

// run is the batch-formation loop: one goroutine per scheduler, cooperative
// with the backend's own internal concurrency (spec.md §4.6, §5).
func (e *engine) run() {
	defer e.wg.Done()
	for {
		it, ok := e.waitForHead()
		if !ok {
			return
		}
		e.formAndDispatch(it)
	}
}

// waitForHead blocks until a request is available at the head of the
// highest non-empty priority level, dropping any that have already timed
// out (spec.md §4.6 "Cancellation & timeout": checked on every queue
// wake).
func (e *engine) waitForHead() (*item, bool) {
	for {
		e.mu.Lock()
		e.expireLocked()
		lvl, it := e.headLocked()
		e.mu.Unlock()
		if it != nil {
			return it, true
		}
		select {
		case <-e.notify:
			continue
		case <-e.closeCh:
			return nil, false
		case <-time.After(5 * time.Millisecond):
			// Periodic wake to catch timeouts even without new arrivals.
			_ = lvl
			continue
		}
	}
}

// headLocked returns (without removing) the oldest request in the
// highest-numbered non-empty priority level.
func (e *engine) headLocked() (int, *item) {
	best := -1
	for lvl, q := range e.queues {
		if len(q) == 0 {
			continue
		}
		if lvl > best {
			best = lvl
		}
	}
	if best == -1 {
		return 0, nil
	}
	return best, e.queues[best][0]
}

// expireLocked removes and fails every request across all queues whose
// deadline has already elapsed.
func (e *engine) expireLocked() {
	now := e.clk.NowMicros()
	for lvl, q := range e.queues {
		kept := q[:0]
		for _, it := range q {
			if d := it.req.DeadlineMicros(); d > 0 && now >= d {
				e.queueDepth.Dec()
				it.resultCh <- Outcome{Err: apierrors.DeadlineExceeded("request timed out before dispatch")}
				continue
			}
			kept = append(kept, it)
		}
		e.queues[lvl] = kept
	}
}

// formAndDispatch runs one full batch-formation cycle (spec.md §4.6 steps
// 2-5) starting from the given head item, then calls the backend.
func (e *engine) formAndDispatch(head *item) {
	cfg := e.handle.Config()
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 || e.direct {
		maxBatch = 1
	}

	e.mu.Lock()
	level := e.levelOfLocked(head)
	batch := e.popCompatibleLocked(level, head, maxBatch)
	e.mu.Unlock()

	total := 0
	for _, it := range batch {
		total += it.req.BatchSize()
	}

	if !e.direct {
		target := smallestPreferredAtLeast(cfg.Scheduling.PreferredBatchSizes, total)
		delay := time.Duration(cfg.Scheduling.MaxQueueDelayMicros) * time.Microsecond
		if target > total && delay > 0 {
			batch, total = e.extendBatch(level, batch, total, maxBatch, target, delay)
		}
	}

	e.dispatch(batch, total)
}

func (e *engine) levelOfLocked(head *item) int {
	for lvl, q := range e.queues {
		if len(q) > 0 && q[0] == head {
			return lvl
		}
	}
	return 1
}

// popCompatibleLocked removes and returns, from the front of queues[level],
// every request compatible with head up to maxBatch cumulative batch size
// (spec.md §4.6 step 3: identical requested-output sets and pairwise
// identical per-input working shapes).
func (e *engine) popCompatibleLocked(level int, head *item, maxBatch int) []*item {
	q := e.queues[level]
	outSig := head.req.OutputSignature()
	shapeSig := head.req.ShapeSignature()
	batch := make([]*item, 0, len(q))
	total := 0
	consumed := 0
	for _, it := range q {
		size := it.req.BatchSize()
		if total+size > maxBatch {
			break
		}
		if it.req.OutputSignature() != outSig || it.req.ShapeSignature() != shapeSig {
			if len(batch) == 0 {
				// head itself always joins.
			} else {
				break
			}
		}
		batch = append(batch, it)
		total += size
		consumed++
	}
	e.queues[level] = q[consumed:]
	e.queueDepth.Sub(float64(consumed))
	return batch
}

// extendBatch waits up to delay for more compatible arrivals, stopping as
// soon as target is reached or the deadline elapses (spec.md §4.6 step 4).
func (e *engine) extendBatch(level int, batch []*item, total, maxBatch, target int, delay time.Duration) ([]*item, int) {
	deadline := time.Now().Add(delay)
	for total < target && total < maxBatch {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-e.notify:
		case <-time.After(remaining):
			return batch, total
		case <-e.closeCh:
			return batch, total
		}
		e.mu.Lock()
		e.expireLocked()
		q := e.queues[level]
		outSig := batch[0].req.OutputSignature()
		shapeSig := batch[0].req.ShapeSignature()
		consumed := 0
		for _, it := range q {
			size := it.req.BatchSize()
			if total+size > maxBatch {
				break
			}
			if it.req.OutputSignature() != outSig || it.req.ShapeSignature() != shapeSig {
				break
			}
			batch = append(batch, it)
			total += size
			consumed++
		}
		e.queues[level] = q[consumed:]
		e.queueDepth.Sub(float64(consumed))
		e.mu.Unlock()
	}
	return batch, total
}

func (e *engine) dispatch(batch []*item, total int) {
	if len(batch) == 0 {
		return
	}
	e.batchSize.Observe(float64(total))
	now := e.clk.NowMicros()
	for _, it := range batch {
		wait := float64(now-it.req.EnqueuedAtMicros()) / 1e6
		if wait < 0 {
			wait = 0
		}
		e.queueWait.Observe(wait)
	}

	views := make([]backend.RequestView, len(batch))
	sinks := make([]backend.ResultSink, len(batch))
	for i, it := range batch {
		views[i] = it.req
		sinks[i] = &resultSink{ch: it.resultCh}
	}
	e.handle.Run(context.Background(), views, sinks)
}

type resultSink struct {
	ch chan Outcome
}

func (s *resultSink) Complete(outputs []types.Tensor, err error) {
	s.ch <- Outcome{Outputs: outputs, Err: err}
}

// smallestPreferredAtLeast returns the smallest entry of preferred that is
// >= 1 and strictly greater than total: the preferred size the scheduler
// waits to reach. If total already meets or exceeds every preferred size,
// or none are configured, it returns 0 (no further wait).
func smallestPreferredAtLeast(preferred []int, total int) int {
	best := 0
	for _, p := range preferred {
		if p < 1 {
			continue
		}
		if p <= total {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}
