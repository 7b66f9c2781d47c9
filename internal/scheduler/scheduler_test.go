package scheduler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modeld/internal/backend"
	"modeld/internal/backend/echo"
	"modeld/internal/clock"
	"modeld/internal/request"
	"modeld/pkg/types"
)

func twoInputConfig(maxBatch int, preferred []int, delayUs int64) *types.ModelConfig {
	return &types.ModelConfig{
		Name:         "sum",
		MaxBatchSize: maxBatch,
		Inputs: []types.TensorConfig{
			{Name: "INPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
			{Name: "INPUT1", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
		Outputs: []types.TensorConfig{
			{Name: "OUTPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
			{Name: "OUTPUT1", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
		Scheduling: types.SchedulingConfig{
			PreferredBatchSizes: preferred,
			MaxQueueDelayMicros: delayUs,
		},
	}
}

func newReq(t *testing.T, cfg *types.ModelConfig, a, b int32, batchSize int) *request.Request {
	t.Helper()
	r := request.New("r", cfg.Name)
	buf := func(v int32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
	shape := []int64{1}
	if cfg.MaxBatchSize > 0 {
		shape = []int64{int64(batchSize), 1}
	}
	r.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: shape, Data: buf(a), ByteSize: 4})
	r.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: shape, Data: buf(b), ByteSize: 4})
	r.AddRequestedOutput("OUTPUT0", 0)
	r.AddRequestedOutput("OUTPUT1", 0)
	if err := r.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return r
}

// newTestEngine builds an engine without starting its batch-formation
// goroutine, so expiry/queue-internals tests can drive it synchronously.
func newTestEngine(h backend.Handle, clk clock.Clock, direct bool) *engine {
	return &engine{
		handle:  h,
		clk:     clk,
		logger:  zerolog.Nop(),
		direct:  direct,
		queues:  make(map[int][]*item),
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_scheduler_queue_depth",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_scheduler_batch_size",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_scheduler_queue_wait_seconds",
		}),
	}
}

func TestDirectPolicyDispatchesImmediately(t *testing.T) {
	cfg := twoInputConfig(0, nil, 0)
	h, err := echo.Factory{}.Build(cfg.Name, 1, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sched := New(h, clock.System{}, zerolog.Nop(), nil)
	defer sched.Close()

	r := newReq(t, cfg, 3, 1, 1)
	ch := sched.Enqueue(r)

	select {
	case out := <-ch:
		if out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
		if len(out.Outputs) != 2 {
			t.Fatalf("expected 2 outputs, got %d", len(out.Outputs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for direct dispatch")
	}
}

func TestDynamicBatchingReachesPreferredSize(t *testing.T) {
	cfg := twoInputConfig(4, []int{2}, int64(500*time.Millisecond/time.Microsecond))
	h, err := echo.Factory{}.Build(cfg.Name, 1, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sched := New(h, clock.System{}, zerolog.Nop(), nil)
	defer sched.Close()

	r1 := newReq(t, cfg, 1, 1, 1)
	ch1 := sched.Enqueue(r1)

	time.Sleep(10 * time.Millisecond)
	r2 := newReq(t, cfg, 2, 2, 1)
	ch2 := sched.Enqueue(r2)

	for _, ch := range []<-chan Outcome{ch1, ch2} {
		select {
		case out := <-ch:
			if out.Err != nil {
				t.Fatalf("unexpected error: %v", out.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batched dispatch")
		}
	}

	if s := h.Stats(); s.LastBatchSize < 2 {
		t.Fatalf("expected requests to be batched together, lastBatchSize=%d", s.LastBatchSize)
	}
}

func TestExpireLockedFailsTimedOutQueuedRequest(t *testing.T) {
	cfg := twoInputConfig(0, nil, 0)
	h, err := echo.Factory{}.Build(cfg.Name, 1, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	mc := clock.NewManual(1_000_000)
	e := newTestEngine(h, mc, true)

	r := newReq(t, cfg, 1, 1, 1)
	r.SetTimeoutMicroseconds(1)
	r.SetEnqueuedAtMicros(mc.NowMicros())

	resultCh := make(chan Outcome, 1)
	e.queues[1] = []*item{{req: r, resultCh: resultCh}}
	e.queueDepth.Inc()

	mc.Advance(10 * time.Microsecond)

	e.mu.Lock()
	e.expireLocked()
	e.mu.Unlock()

	select {
	case out := <-resultCh:
		if out.Err == nil {
			t.Fatal("expected a timeout error")
		}
	default:
		t.Fatal("expected expireLocked to deliver an outcome synchronously")
	}
	if len(e.queues[1]) != 0 {
		t.Fatalf("expected expired request to be removed from the queue, got %d remaining", len(e.queues[1]))
	}
}
