package manager

import (
	"modeld/internal/apierrors"
	"modeld/internal/backend"
	"modeld/internal/scheduler"
)

// HandleRef is a caller-held, reference-counted lease on one (name,
// version) slot's current generation. Release must be called exactly once
// when the caller is done enqueuing against it (spec.md §5 "Reference-
// counted handle discipline").
type HandleRef struct {
	Handle    backend.Handle
	Scheduler scheduler.Scheduler
	release   func()
}

// Release drops this lease. Safe to call exactly once; a second call is a
// caller bug, not guarded against, matching the original's unchecked
// shared_ptr drop semantics.
func (r *HandleRef) Release() { r.release() }

// GetInferenceBackend resolves the Backend Handle a Request should be
// enqueued against: version -1 means "policy chooses", resolved here to
// the highest READY version of name (spec.md §8 scenario 2). Any other
// version must itself be READY.
func (m *Manager) GetInferenceBackend(name string, version int64) (*HandleRef, error) {
	if version < 0 {
		ready := m.loadedVersions(name)
		v, ok := latestReady(ready)
		if !ok {
			return nil, apierrors.Unavailable("model not ready: " + name)
		}
		version = v
	}

	m.mu.RLock()
	s, ok := m.slots[name][version]
	m.mu.RUnlock()
	if !ok {
		return nil, apierrors.NotFound("model not found: " + name)
	}

	h, sc, release, ok := s.acquire()
	if !ok {
		return nil, apierrors.Unavailable("model not ready: " + name)
	}
	return &HandleRef{Handle: h, Scheduler: sc, release: release}, nil
}
