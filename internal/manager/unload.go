package manager

import (
	"time"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// UnloadModel drains and closes every currently loaded version of name
// (spec.md §4.4, §6 "UnloadModel"), waiting indefinitely for outstanding
// leases to drain. Marking a slot UNLOADING rejects new acquires
// immediately (spec.md §5 "Reference-counted handle discipline").
func (m *Manager) UnloadModel(name string) error {
	return m.unloadModelTimeout(name, UnboundedUnloadTimeout)
}

// UnloadModelWithTimeout drains and closes every currently loaded version
// of name, returning a DeadlineExceeded error for any version whose leases
// have not drained within timeout rather than blocking forever. Used by
// the Server façade's Stop (spec.md §4.7, §8 scenario 5), which has its
// own exit_timeout_secs budget and must not hang on a leaked HandleRef.
func (m *Manager) UnloadModelWithTimeout(name string, timeout time.Duration) error {
	return m.unloadModelTimeout(name, timeout)
}

func (m *Manager) unloadModelTimeout(name string, timeout time.Duration) error {
	m.mu.RLock()
	versions := m.slots[name]
	slots := make([]*slot, 0, len(versions))
	for _, s := range versions {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	if len(slots) == 0 {
		return apierrors.NotFound("model not loaded: " + name)
	}
	var firstErr error
	for _, s := range slots {
		if err := m.unloadSlot(s, timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UnloadModelVersion drains and closes exactly one (name, version),
// waiting indefinitely for outstanding leases to drain.
func (m *Manager) UnloadModelVersion(name string, version int64) error {
	m.mu.RLock()
	s, ok := m.slots[name][version]
	m.mu.RUnlock()
	if !ok {
		return apierrors.NotFound("model version not loaded: " + name)
	}
	return m.unloadSlot(s, UnboundedUnloadTimeout)
}

// UnboundedUnloadTimeout tells unloadSlot/waitDrained to block until the
// generation's last lease releases, with no deadline.
const UnboundedUnloadTimeout time.Duration = -1

// unloadSlot marks s UNLOADING and waits up to timeout for its current
// generation's leases to drain (UnboundedUnloadTimeout waits forever). On
// timeout it leaves the slot UNLOADING without closing the handle — a
// leaked HandleRef may still be using it — and returns a DeadlineExceeded
// error instead of blocking indefinitely (spec.md §8 scenario 5).
func (m *Manager) unloadSlot(s *slot, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != types.StateReady {
		s.mu.Unlock()
		return nil
	}
	g := s.current
	s.current = nil
	s.state = types.StateUnloading
	s.mu.Unlock()
	m.publishVersion(s.name, "unload_start", s.version, nil)

	g.beginDrain()
	if !waitDrained(g.waitDrained(), timeout) {
		m.publishVersion(s.name, "unload_timeout", s.version, nil)
		return apierrors.DeadlineExceeded("unload " + s.name + ": timed out waiting for in-flight requests to drain")
	}

	g.sched.Close()
	if err := g.handle.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("error closing backend handle on unload")
	}

	s.mu.Lock()
	s.state = types.StateUnavailable
	s.mu.Unlock()
	m.publishVersion(s.name, "unload_done", s.version, nil)
	return nil
}

// waitDrained blocks on ch until it closes or timeout elapses, returning
// false on timeout. timeout == UnboundedUnloadTimeout waits forever.
func waitDrained(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout == UnboundedUnloadTimeout {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
