// Package pool implements the shared pinned host memory pool and the
// per-device GPU memory pools of spec.md §5: a configured byte budget per
// pool, acquired with a try_acquire/fallback-to-pageable policy. Acquire
// accounting mirrors the Manager's used/budget/margin bookkeeping in the
// teacher's internal/manager/evict.go.
package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool is a single fixed-size byte budget, either the process-wide pinned
// host pool or one device's GPU pool.
type Pool struct {
	name       string
	mu         sync.Mutex
	budget     uint64
	used       uint64
	acquired   prometheus.Counter
	fallenBack prometheus.Counter
	usedGauge  prometheus.Gauge
}

// Registry owns every Pool keyed by name (the pinned pool uses name
// "pinned"; GPU pools use "gpu:<device_id>"), giving it an explicit
// init/teardown boundary instead of relying on a package-level map's
// implicit lifetime (spec.md §9 "Global channel cache" re-architecture
// note, generalized to memory pools).
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry returns an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Configure creates or resizes the named pool to budgetBytes.
func (r *Registry) Configure(name string, budgetBytes uint64) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[name]; ok {
		p.mu.Lock()
		p.budget = budgetBytes
		p.mu.Unlock()
		return p
	}
	p := &Pool{
		name:   name,
		budget: budgetBytes,
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modeld", Subsystem: "pool", Name: "acquired_total",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		fallenBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modeld", Subsystem: "pool", Name: "fallback_total",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		usedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modeld", Subsystem: "pool", Name: "used_bytes",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
	}
	r.pools[name] = p
	return p
}

// Get returns the named pool, if configured.
func (r *Registry) Get(name string) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[name]
	return p, ok
}

// Collectors returns every metric collector owned by this registry's
// pools, for callers that register metrics with a custom
// prometheus.Registerer instead of the global one.
func (r *Registry) Collectors() []prometheus.Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := make([]prometheus.Collector, 0, 3*len(r.pools))
	for _, p := range r.pools {
		cs = append(cs, p.acquired, p.fallenBack, p.usedGauge)
	}
	return cs
}

// TryAcquire reserves n bytes from the pool's budget. If n exceeds the
// remaining budget, ok is false and the caller must fall back to pageable
// memory (spec.md §5 "acquire-or-fallback").
func (p *Pool) TryAcquire(n uint64) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used+n > p.budget {
		p.fallenBack.Inc()
		return false
	}
	p.used += n
	p.acquired.Inc()
	p.usedGauge.Set(float64(p.used))
	return true
}

// Release returns n bytes to the pool's budget.
func (p *Pool) Release(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.used {
		n = p.used
	}
	p.used -= n
	p.usedGauge.Set(float64(p.used))
}

// UsedBytes returns the current reservation.
func (p *Pool) UsedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// BudgetBytes returns the configured budget.
func (p *Pool) BudgetBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget
}
