// Package server implements the Server Façade (spec.md §4.7): liveness and
// readiness aggregation, admission into the Manager/Scheduler pipeline, the
// in-flight request counter used for graceful shutdown, and optional
// systemd readiness notification.
//
// Grounded on original_source's InferenceServer declaration (src/core/
// server.h) for the Init/Stop/PollModelRepository/IsLive/IsReady/
// InferAsync/GetStatus surface, and on the teacher's
// internal/manager.Manager constructor/lifecycle conventions for how a
// façade wraps long-lived state.
package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"modeld/internal/apierrors"
	"modeld/internal/manager"
	"modeld/internal/request"
	"modeld/internal/response"
	"modeld/pkg/types"
)

// Config encapsulates the configuration options spec.md §6 recognizes that
// this façade itself consumes. Manager-specific options live in
// manager.Config.
type Config struct {
	StrictReadiness bool
	ExitTimeout     time.Duration
	StartupModels   []string
	// SdNotify enables systemd readiness notification (READY=1/STOPPING=1)
	// on Init/Stop transitions; a no-op when not running under systemd,
	// exactly as daemon.SdNotify behaves when NOTIFY_SOCKET is unset.
	SdNotify bool
	Logger   zerolog.Logger
	// Allocator backs every response output buffer (spec.md §6 "Response
	// allocator"). Defaults to a plain-[]byte allocator with no pinned
	// pool when unset.
	Allocator response.Allocator
}

// Server is the façade callers build Requests against. It owns no model
// state directly; the Manager does. Server adds the admission/readiness/
// in-flight layer spec.md §4.7 describes.
type Server struct {
	mgr    *manager.Manager
	cfg    Config
	logger zerolog.Logger

	startedAt time.Time

	mu sync.RWMutex
	// live is true from Init() completing until Stop() finishes draining
	// and unloading (spec.md §4.7: "IsLive continues to report true until
	// Stop completes"), independent of admission control.
	live bool
	// stopRequested gates admission of new requests the instant Stop() is
	// called; it does not affect IsLive.
	stopRequested bool

	inflight atomic.Int64
}

// New wraps mgr in a Server façade. Init must be called before the server
// accepts traffic.
func New(mgr *manager.Manager, cfg Config) *Server {
	if cfg.Allocator == nil {
		cfg.Allocator = response.NewBytesAllocator(nil)
	}
	return &Server{mgr: mgr, cfg: cfg, logger: cfg.Logger.With().Str("component", "server").Logger()}
}

// Init loads every startup model (StartupModels, or everything the
// repository contains under ControlNone) and marks the server live
// (spec.md §4.7 "IsLive() is always true once Init() completes"). A
// startup model load failure is logged but does not prevent Init from
// completing: readiness is computed from whatever actually came up.
func (s *Server) Init() error {
	var firstErr error
	names := s.cfg.StartupModels
	if s.mgr.ControlMode() == types.ControlNone {
		names = nil
		if err := s.mgr.PollModelRepository(); err != nil {
			s.logger.Warn().Err(err).Msg("startup repository load failed")
			firstErr = err
		}
	}
	for _, name := range names {
		if err := s.mgr.LoadModel(name); err != nil {
			s.logger.Warn().Err(err).Str("model", name).Msg("startup model failed to load")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.live = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.SdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	}
	return firstErr
}

// IsLive reports liveness (spec.md §4.7): true from the moment Init
// completes until Stop completes, independent of model state and
// independent of whether Stop has merely been called.
func (s *Server) IsLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// IsReady reports readiness (spec.md §4.7): live and not stopping, and
// either every startup model is READY (strict_readiness) or at least one
// model anywhere is READY (non-strict).
func (s *Server) IsReady() bool {
	if !s.acceptingNewRequests() {
		return false
	}
	if !s.cfg.StrictReadiness {
		return s.mgr.IsReady()
	}
	for _, name := range s.cfg.StartupModels {
		versions := s.mgr.ModelReadyVersions(name)
		if len(versions) == 0 {
			return false
		}
	}
	return true
}

// ModelIsReady delegates to the Manager (spec.md §6).
func (s *Server) ModelIsReady(name string, version int64) bool {
	return s.mgr.ModelIsReady(name, version)
}

// ModelReadyVersions delegates to the Manager (spec.md §6).
func (s *Server) ModelReadyVersions(name string) []int64 { return s.mgr.ModelReadyVersions(name) }

// LoadModel delegates to the Manager (spec.md §6).
func (s *Server) LoadModel(name string) error { return s.mgr.LoadModel(name) }

// UnloadModel delegates to the Manager (spec.md §6).
func (s *Server) UnloadModel(name string) error { return s.mgr.UnloadModel(name) }

// PollModelRepository delegates to the Manager (spec.md §6).
func (s *Server) PollModelRepository() error { return s.mgr.PollModelRepository() }

// GetModelRepositoryIndex delegates to the Manager (spec.md §6).
func (s *Server) GetModelRepositoryIndex() []types.RepositoryIndexEntry {
	return s.mgr.GetModelRepositoryIndex()
}

// InflightCount returns the number of Requests that have returned from
// InferAsync but whose completion has not yet fired (spec.md §8 invariant).
func (s *Server) InflightCount() int64 { return s.inflight.Load() }

// InferAsync resolves the backend for req, increments the in-flight
// counter, prepares and enqueues req, and arranges for the counter to
// decrement on completion (spec.md §4.7 "InferAsync"). The returned
// channel receives exactly one response.
func (s *Server) InferAsync(req *request.Request) (<-chan *response.Response, error) {
	out := make(chan *response.Response, 1)

	if !s.acceptingNewRequests() {
		out <- response.BuildError(req.ID(), apierrors.Unavailable("server is stopping"))
		return out, nil
	}

	ref, err := s.mgr.GetInferenceBackend(req.ModelName(), req.RequestedVersion())
	if err != nil {
		out <- response.BuildError(req.ID(), err)
		return out, err
	}

	if err := req.Prepare(ref.Handle.Config()); err != nil {
		ref.Release()
		out <- response.BuildError(req.ID(), err)
		return out, err
	}

	s.inflight.Add(1)
	outcomeCh := ref.Scheduler.Enqueue(req)

	go func() {
		defer ref.Release()
		defer s.inflight.Add(-1)
		outcome := <-outcomeCh
		if outcome.Err != nil {
			out <- response.BuildError(req.ID(), outcome.Err)
			return
		}
		out <- response.New(s.cfg.Allocator).Build(req.ID(), outcome.Outputs, classificationMap(req))
	}()

	return out, nil
}

func classificationMap(req *request.Request) map[string]int {
	m := make(map[string]int)
	for _, name := range req.RequestedOutputs() {
		if k := req.Classification(name); k > 0 {
			m[name] = k
		}
	}
	return m
}

func (s *Server) acceptingNewRequests() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live && !s.stopRequested
}

// Stop transitions readiness to NOT_READY, stops accepting new requests,
// waits up to ExitTimeout for the in-flight counter to reach 0, then
// unloads every model within whatever budget remains (spec.md §4.7
// "Stop"). Returns apierrors.DeadlineExceeded if either the in-flight
// drain or a model's own unload drain exceeds ExitTimeout; a leaked
// HandleRef then leaves that model UNLOADING rather than hanging Stop
// forever (spec.md §8 scenario 5).
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()

	if s.cfg.SdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	start := time.Now()
	timedOut := !s.waitForDrain(s.cfg.ExitTimeout)
	budget := remainingTimeout(s.cfg.ExitTimeout, start)

	names := s.loadedModelNames()
	var firstErr error
	for _, name := range names {
		if err := s.mgr.UnloadModelWithTimeout(name, budget); err != nil {
			if apierrors.IsDeadlineExceeded(err) {
				timedOut = true
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.live = false
	s.mu.Unlock()

	if timedOut {
		return apierrors.DeadlineExceeded("stop: exit_timeout_secs elapsed with requests still in flight")
	}
	return firstErr
}

// remainingTimeout returns the unload budget left after waitForDrain
// already spent some of total against start. total <= 0 means "no
// exit_timeout_secs configured" and is passed through as an unbounded
// wait; otherwise the remainder is floored at 0 so an already-exhausted
// budget still gets one immediate drain check rather than blocking.
func remainingTimeout(total time.Duration, start time.Time) time.Duration {
	if total <= 0 {
		return manager.UnboundedUnloadTimeout
	}
	left := total - time.Since(start)
	if left < 0 {
		left = 0
	}
	return left
}

func (s *Server) loadedModelNames() []string {
	idx := s.mgr.GetModelRepositoryIndex()
	seen := make(map[string]bool, len(idx))
	var out []string
	for _, e := range idx {
		if !seen[e.Name] {
			seen[e.Name] = true
			out = append(out, e.Name)
		}
	}
	return out
}

// waitForDrain blocks until the in-flight counter reaches 0 or timeout
// elapses, returning false on timeout. timeout <= 0 waits forever.
func (s *Server) waitForDrain(timeout time.Duration) bool {
	if s.inflight.Load() == 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	const poll = 10 * time.Millisecond
	for {
		if s.inflight.Load() == 0 {
			return true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}

// GetStatus assembles per-model aggregate status, mirroring
// InferenceServer::GetStatus in original_source (spec.md §4.7 supplement).
func (s *Server) GetStatus() types.ServerStatus {
	s.mu.RLock()
	uptime := int64(0)
	if s.live {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.RUnlock()
	return types.ServerStatus{
		Live:          s.IsLive(),
		Ready:         s.IsReady(),
		UptimeSeconds: uptime,
		InflightCount: s.inflight.Load(),
		Versions:      s.mgr.VersionStatuses(),
	}
}
