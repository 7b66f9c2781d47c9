// Package backend defines the Backend Handle contract (spec.md §4.3): an
// opaque per-(name, version) object owning a single framework session, and
// the BackendFactory extension point through which framework adapters
// (TensorRT/ONNX Runtime/Torch/llama.cpp) plug in — out of scope here per
// spec.md §1, so this package ships exactly one production Factory, the
// deterministic echo backend in internal/backend/echo.
package backend

import (
	"context"
	"sync/atomic"
	"time"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// RequestView is the minimal slice of an internal/request.Request that a
// Backend needs to execute a batch: resolved per-input tensors (already
// normalized: batch dim stripped for batching models) and the requested
// output names. Kept as an interface here so backend does not import
// internal/request (*request.Request satisfies it structurally),
// breaking the cyclic ownership the teacher's Request/Backend relationship
// would otherwise have (spec.md §9 "Cyclic ownership" re-architecture).
type RequestView interface {
	InputTensors() []types.Tensor
	RequestedOutputs() []string
	BatchSize() int
	Classification(outputName string) int
}

// ResultSink receives one request's outcome from a batch Run call.
type ResultSink interface {
	Complete(outputs []types.Tensor, err error)
}

// Handle is the opaque per-(name, version) object a caller acquires
// through the Manager and holds a shared, reference-counted reference to
// (spec.md §3 Ownership, I5).
type Handle interface {
	Name() string
	Version() int64
	Config() *types.ModelConfig
	MaxPriorityLevel() int
	DefaultPriorityLevel() int

	// GetInput/GetOutput resolve a tensor config entry by name, or
	// apierrors.NotFound.
	GetInput(name string) (types.TensorConfig, error)
	GetOutput(name string) (types.TensorConfig, error)

	// Run is invoked by this handle's scheduler with a batch of requests
	// sharing this model; it fills each ResultSink and returns. Side
	// effects (device memory allocation, kernel launches) are entirely the
	// concern of the concrete Factory implementation.
	Run(ctx context.Context, batch []RequestView, sinks []ResultSink)

	// Stats returns cumulative execution counters for GetStatus.
	Stats() Stats

	// Close releases the framework session. Called by the Manager only
	// after the handle's reference count has drained to zero.
	Close() error
}

// Stats is the cumulative counters surfaced through GetStatus (spec.md §6
// GetStatus).
type Stats struct {
	InferCount    uint64
	InferExecUsec uint64
	LastBatchSize int
}

// Factory builds a Handle for one (name, version), given its validated
// configuration and the on-disk path of its artifact directory (spec.md
// §4.4, §6 "Backend factory"). This is the sole extension point for
// framework support.
type Factory interface {
	Build(name string, version int64, cfg *types.ModelConfig, versionDir string) (Handle, error)
}

// statsTracker is an atomic Stats bookkeeping helper. It is unexported and
// no Handle in this module embeds it; the echo backend keeps its own
// counters.
type statsTracker struct {
	inferCount    atomic.Uint64
	inferExecUsec atomic.Uint64
	lastBatchMu   atomic.Int64
}

func (s *statsTracker) record(batchSize int, dur time.Duration) {
	s.inferCount.Add(uint64(batchSize))
	s.inferExecUsec.Add(uint64(dur.Microseconds()))
	s.lastBatchMu.Store(int64(batchSize))
}

func (s *statsTracker) snapshot() Stats {
	return Stats{
		InferCount:    s.inferCount.Load(),
		InferExecUsec: s.inferExecUsec.Load(),
		LastBatchSize: int(s.lastBatchMu.Load()),
	}
}

// NotFoundInput/NotFoundOutput are convenience constructors used by Handle
// implementations for GetInput/GetOutput misses.
func NotFoundInput(name string) error  { return apierrors.NotFound("input not found: " + name) }
func NotFoundOutput(name string) error { return apierrors.NotFound("output not found: " + name) }
