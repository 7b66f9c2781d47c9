package manager

import (
	"sort"

	"modeld/pkg/types"
)

// ModelIsReady reports whether (name, version) is currently READY
// (spec.md §6 "ModelIsReady").
func (m *Manager) ModelIsReady(name string, version int64) bool {
	m.mu.RLock()
	s, ok := m.slots[name][version]
	m.mu.RUnlock()
	return ok && s.isReady()
}

// ModelReadyVersions returns every READY version number of name, sorted
// ascending (spec.md §6 "ModelReadyVersions").
func (m *Manager) ModelReadyVersions(name string) []int64 {
	return sortedInt64s(m.loadedVersions(name))
}

// GetModelRepositoryIndex returns (name, version, state) for every model
// this Manager has ever observed, mirroring
// InferenceServer::GetModelRepositoryIndex (spec.md §4.4).
func (m *Manager) GetModelRepositoryIndex() []types.RepositoryIndexEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.RepositoryIndexEntry
	for name, versions := range m.slots {
		for version, s := range versions {
			s.mu.Lock()
			out = append(out, types.RepositoryIndexEntry{Name: name, Version: version, State: s.state})
			s.mu.Unlock()
		}
	}
	return out
}

// VersionStatuses returns a snapshot of every known (name, version) slot,
// for GetStatus.
func (m *Manager) VersionStatuses() []types.VersionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.VersionStatus
	for _, versions := range m.slots {
		for _, s := range versions {
			out = append(out, s.snapshot())
		}
	}
	return out
}

// IsReady reports whether at least one model has at least one READY
// version (the non-strict readiness rule; the Server façade applies
// strict_readiness on top of this using StartupModels).
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, versions := range m.slots {
		for _, s := range versions {
			if s.isReady() {
				return true
			}
		}
	}
	return false
}

func sortedInt64s(in []int64) []int64 {
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
