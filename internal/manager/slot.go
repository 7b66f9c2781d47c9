package manager

import (
	"sync"

	"modeld/internal/backend"
	"modeld/internal/scheduler"
	"modeld/internal/store"
	"modeld/pkg/types"
)

// generation is one successful load's installed handle + scheduler, with
// its own refcount and drain signal. A reload installs a brand new
// generation on the owning slot and leaves the old one to whichever
// leases already hold it; releasing the last lease on a retired
// generation closes its drained channel, independent of whatever
// generation the slot has since moved on to (spec.md §9 "Reference
// counting and reload").
type generation struct {
	mu       sync.Mutex
	gen      uint64
	handle   backend.Handle
	sched    scheduler.Scheduler
	refcount int
	retired  bool
	drained  chan struct{}
}

func newGeneration(gen uint64, h backend.Handle, sc scheduler.Scheduler) *generation {
	return &generation{gen: gen, handle: h, sched: sc, drained: make(chan struct{})}
}

func (g *generation) acquire() {
	g.mu.Lock()
	g.refcount++
	g.mu.Unlock()
}

func (g *generation) release() {
	g.mu.Lock()
	g.refcount--
	n := g.refcount
	retired := g.retired
	g.mu.Unlock()
	if n == 0 && retired {
		select {
		case <-g.drained:
		default:
			close(g.drained)
		}
	}
}

// waitDrained blocks until every lease on g has been released.
func (g *generation) waitDrained() <-chan struct{} { return g.drained }

// beginDrain closes drained immediately if g already has no outstanding
// leases; otherwise the eventual release() that brings refcount to 0 does
// it. Safe to call exactly once, right after g stops being a slot's
// current generation (no new acquire can target it afterward).
func (g *generation) beginDrain() {
	g.mu.Lock()
	g.retired = true
	n := g.refcount
	g.mu.Unlock()
	if n == 0 {
		select {
		case <-g.drained:
		default:
			close(g.drained)
		}
	}
}

// slot is one (name, version)'s state machine: UNKNOWN -> LOADING -> READY
// -> UNLOADING -> UNAVAILABLE (spec.md §3). Each successful load installs a
// new *generation, identified by a monotonically increasing integer, so a
// readiness snapshot can identify exactly which handle generation served
// it (spec.md §9 "Reference counting and reload").
type slot struct {
	mu sync.Mutex

	name    string
	version int64

	state  types.ModelState
	reason string

	// modKey is the repository fingerprint this slot's current generation
	// was loaded from, used by PollModelRepository to tell an idempotent
	// re-read from a genuine on-disk change (spec.md §4.1, §4.4).
	modKey store.ModificationKey

	nextGen uint64
	current *generation
}

// snapshot returns a types.VersionStatus for this slot, including backend
// stats when a generation is installed.
func (s *slot) snapshot() types.VersionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := types.VersionStatus{
		Name:    s.name,
		Version: s.version,
		State:   s.state,
		Reason:  s.reason,
	}
	if s.current != nil {
		vs.Generation = s.current.gen
		st := s.current.handle.Stats()
		vs.InferCount = st.InferCount
		vs.InferExecUsec = st.InferExecUsec
		vs.LastBatchSize = st.LastBatchSize
	}
	return vs
}

func (s *slot) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == types.StateReady
}

// acquire leases the slot's current handle/scheduler if READY, returning a
// release func the caller must call exactly once. ok is false if the slot
// is not READY.
func (s *slot) acquire() (backend.Handle, scheduler.Scheduler, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateReady || s.current == nil {
		return nil, nil, nil, false
	}
	g := s.current
	g.acquire()
	return g.handle, g.sched, g.release, true
}

// installLocked sets state to READY and swaps in a freshly built
// generation. Caller must hold s.mu.
func (s *slot) installLocked(h backend.Handle, sc scheduler.Scheduler, key store.ModificationKey) *generation {
	s.nextGen++
	g := newGeneration(s.nextGen, h, sc)
	s.current = g
	s.state = types.StateReady
	s.reason = ""
	s.modKey = key
	return g
}
