// Package manager implements the Model Repository Manager (spec.md §4.4):
// the per-(name, version) state machine, reference-counted Backend Handle
// table, and the NONE/POLL/EXPLICIT lifecycle policies.
//
// Grounded on the teacher's internal/manager/manager.go (config struct +
// constructor), generalized from a single-LLM-instance model to the full
// name/version state machine, plus original_source's InferenceServer
// (src/core/server.h) for the Init/Stop/PollModelRepository/LoadModel/
// UnloadModel/GetModelRepositoryIndex surface.
package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modeld/internal/backend"
	"modeld/internal/clock"
	"modeld/internal/store"
	"modeld/pkg/types"
)

// Config encapsulates all tunables for Manager construction, following the
// teacher's ManagerConfig convention.
type Config struct {
	RepositoryRoots   []string
	ControlMode       types.ControlMode
	StrictModelConfig bool
	// StartupModels is not read by the Manager itself; the Server façade's
	// Init loads its own server.Config.StartupModels list (or, under NONE,
	// the whole repository) through LoadModel/PollModelRepository.
	StartupModels []string
	Factory       backend.Factory
	Clock         clock.Clock
	Logger        zerolog.Logger
	Publisher     EventPublisher
	// MetricsRegisterer registers each per-model scheduler's queue-depth/
	// batch-size/queue-wait collectors (spec.md §4.6 supplement). Nil
	// means "track but never expose" (used by tests).
	MetricsRegisterer prometheus.Registerer
}

// Manager owns the reference-counted Backend Handle table and the
// generation counter per (name, version) slot.
type Manager struct {
	mu    sync.RWMutex
	slots map[string]map[int64]*slot // name -> version -> slot

	store       *store.Store
	factory     backend.Factory
	controlMode types.ControlMode
	strict      bool
	clk         clock.Clock
	logger      zerolog.Logger
	publisher   EventPublisher
	metricsReg  prometheus.Registerer
}

// New constructs a Manager over cfg.RepositoryRoots. It does not load any
// model; call LoadModel (explicit startup set) or PollModelRepository
// (NONE at startup, POLL on every tick) to populate the handle table.
func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger.With().Str("component", "manager").Logger()
	st, err := store.New(cfg.RepositoryRoots, logger)
	if err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Manager{
		slots:       make(map[string]map[int64]*slot),
		store:       st,
		factory:     cfg.Factory,
		controlMode: cfg.ControlMode,
		strict:      cfg.StrictModelConfig,
		clk:         clk,
		logger:      logger,
		publisher:   pub,
		metricsReg:  cfg.MetricsRegisterer,
	}, nil
}

// ControlMode returns the lifecycle policy this Manager was constructed
// with.
func (m *Manager) ControlMode() types.ControlMode { return m.controlMode }

// slotFor returns the slot for (name, version), creating an UNKNOWN one if
// absent. Caller must hold m.mu for writing.
func (m *Manager) slotForLocked(name string, version int64) *slot {
	versions, ok := m.slots[name]
	if !ok {
		versions = make(map[int64]*slot)
		m.slots[name] = versions
	}
	s, ok := versions[version]
	if !ok {
		s = &slot{name: name, version: version, state: types.StateUnknown}
		versions[version] = s
	}
	return s
}

func (m *Manager) publish(name string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, Fields: fields})
}

func (m *Manager) publishVersion(name, event string, version int64, fields map[string]any) {
	m.publisher.Publish(Event{Name: event, Model: name, Version: version, Fields: fields})
}
