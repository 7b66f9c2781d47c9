package manager

import (
	"sync"

	"modeld/internal/apierrors"
	"modeld/internal/modelconfig"
	"modeld/internal/store"
	"modeld/pkg/types"
)

// PollModelRepository re-scans the repository roots and reconciles loaded
// state with what it finds (spec.md §4.4, §6): new models and versions are
// loaded, changed version subtrees are reloaded, versions no longer
// selected by policy or missing from disk are unloaded. Used repeatedly
// under types.ControlPoll and once, at Init, under types.ControlNone;
// callable unconditionally (the Server façade decides when to call it).
//
// Per-model work is fanned out across goroutines (spec.md §4.4
// "Orderings": added/removed/modified models reconcile concurrently;
// cross-model loads never block each other). Within one model, its
// versions still load/unload sequentially against that model's own
// slots.
func (m *Manager) PollModelRepository() error {
	found, err := m.store.Scan()
	if err != nil {
		return apierrors.Unavailable(err.Error())
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	seen := make(map[string]bool, len(found))
	for name, mv := range found {
		seen[name] = true
		wg.Add(1)
		go func(name string, mv *store.ModelVersions) {
			defer wg.Done()
			recordErr(m.reconcileModel(name, mv))
		}(name, mv)
	}
	wg.Wait()

	for _, name := range m.loadedModelNames() {
		if !seen[name] {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_ = m.UnloadModel(name)
			}(name)
		}
	}
	wg.Wait()

	return firstErr
}

// reconcileModel loads/reloads name's policy-selected versions and unloads
// any version no longer selected, returning the first error encountered.
func (m *Manager) reconcileModel(name string, mv *store.ModelVersions) error {
	cfg, err := m.store.ReadConfig(name)
	if err != nil {
		if m.strict {
			return apierrors.Unavailable("poll " + name + ": " + err.Error())
		}
		return nil
	}
	if verr := modelconfig.Validate(cfg); verr != nil {
		return verr
	}

	versionNums := make([]int64, 0, len(mv.Versions))
	for v := range mv.Versions {
		versionNums = append(versionNums, v)
	}
	selected := selectVersions(cfg.VersionPolicy, versionNums)
	wanted := make(map[int64]bool, len(selected))
	for _, v := range selected {
		wanted[v] = true
	}

	var firstErr error
	for _, v := range selected {
		if m.needsLoad(name, v, mv.Versions[v]) {
			if err := m.loadVersion(name, v, cfg, mv.Versions[v]); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, v := range m.loadedVersions(name) {
		if !wanted[v] {
			m.unloadVersionIfLoaded(name, v)
		}
	}
	return firstErr
}

// needsLoad reports whether (name, version) is not READY, or is READY but
// against a stale fingerprint.
func (m *Manager) needsLoad(name string, version int64, key store.ModificationKey) bool {
	m.mu.RLock()
	s, ok := m.slots[name][version]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateReady {
		return true
	}
	return s.modKey != key
}

func (m *Manager) loadedVersions(name string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.slots[name]))
	for v, s := range m.slots[name] {
		if s.isReady() {
			out = append(out, v)
		}
	}
	return out
}

func (m *Manager) loadedModelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.slots))
	for name, versions := range m.slots {
		for _, s := range versions {
			if s.isReady() {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func (m *Manager) unloadVersionIfLoaded(name string, version int64) {
	m.mu.RLock()
	s, ok := m.slots[name][version]
	m.mu.RUnlock()
	if ok {
		_ = m.unloadSlot(s, UnboundedUnloadTimeout)
	}
}
