package manager

import (
	"modeld/internal/apierrors"
	"modeld/internal/modelconfig"
	"modeld/internal/scheduler"
	"modeld/internal/store"
	"modeld/pkg/types"
)

// LoadModel loads (or reloads) every on-disk version of name selected by
// its VersionPolicy (spec.md §4.4, §6 "LoadModel"). A failure loading one
// version does not prevent the others from loading (spec.md §8 scenario
// 6): the returned error, if any, is the first one encountered, but every
// version is still attempted.
func (m *Manager) LoadModel(name string) error {
	cfg, err := m.store.ReadConfig(name)
	if err != nil {
		if m.strict {
			return apierrors.Unavailable("load " + name + ": " + err.Error())
		}
		return apierrors.NotFound("load " + name + ": " + err.Error())
	}
	if verr := modelconfig.Validate(cfg); verr != nil {
		return verr
	}

	onDisk, err := m.versionsOnDisk(name)
	if err != nil {
		return apierrors.NotFound(err.Error())
	}
	versionNums := make([]int64, 0, len(onDisk))
	for v := range onDisk {
		versionNums = append(versionNums, v)
	}
	selected := selectVersions(cfg.VersionPolicy, versionNums)
	if len(selected) == 0 {
		return apierrors.InvalidArg("version policy for " + name + " selects no on-disk version")
	}

	var firstErr error
	for _, v := range selected {
		if err := m.loadVersion(name, v, cfg, onDisk[v]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// versionsOnDisk returns the fingerprint of every version found for name
// across all repository roots.
func (m *Manager) versionsOnDisk(name string) (map[int64]store.ModificationKey, error) {
	all, err := m.store.Scan()
	if err != nil {
		return nil, err
	}
	mv, ok := all[name]
	if !ok {
		return nil, apierrors.NotFound("model not found in repository: " + name)
	}
	return mv.Versions, nil
}

// loadVersion builds a Backend Handle and per-handle Scheduler for
// (name, version) and installs them as a new generation on that slot. If
// the slot already has a live generation (reload), that generation keeps
// serving in-flight and new callers under StateReady for the whole build
// duration; only once the new generation is built does installLocked
// atomically swap it in, and the old one is left to drain in the
// background and close once its last lease releases (spec.md §4.4,
// §9 "Reference counting and reload").
func (m *Manager) loadVersion(name string, version int64, cfg *types.ModelConfig, key store.ModificationKey) error {
	m.mu.Lock()
	s := m.slotForLocked(name, version)
	m.mu.Unlock()

	s.mu.Lock()
	reload := s.current != nil
	if s.state == types.StateLoading {
		s.mu.Unlock()
		return nil
	}
	if !reload {
		s.state = types.StateLoading
	}
	s.mu.Unlock()
	m.publishVersion(name, "load_start", version, nil)

	versionDir, err := m.store.VersionDir(name, version)
	if err != nil {
		return m.failLoad(s, name, version, reload, err)
	}

	h, err := m.factory.Build(name, version, cfg, versionDir)
	if err != nil {
		return m.failLoad(s, name, version, reload, err)
	}
	sc := scheduler.New(h, m.clk, m.logger, m.metricsReg)

	s.mu.Lock()
	old := s.current
	s.installLocked(h, sc, key)
	s.mu.Unlock()

	if old != nil {
		old.beginDrain()
		go m.retire(old)
	}
	m.publishVersion(name, "load_done", version, nil)
	return nil
}

// failLoad records a load failure. On first load the slot becomes
// UNAVAILABLE; on a failed reload the slot is left exactly as it was
// (still READY on its prior generation), since the old handle never
// stopped serving.
func (m *Manager) failLoad(s *slot, name string, version int64, reload bool, err error) error {
	if !reload {
		s.mu.Lock()
		s.state = types.StateUnavailable
		s.reason = err.Error()
		s.mu.Unlock()
	}
	m.publishVersion(name, "load_failed", version, map[string]any{"reason": err.Error()})
	return apierrors.Unavailable(err.Error())
}

// retire waits for a retired generation's leases to drain, then closes its
// handle and scheduler.
func (m *Manager) retire(g *generation) {
	<-g.waitDrained()
	g.sched.Close()
	if err := g.handle.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("error closing retired backend handle")
	}
}
