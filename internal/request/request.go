// Package request implements the Request builder and Normalizer (spec.md
// §4.5): a caller-owned, mutable-until-Prepare object that becomes frozen
// once scheduled.
//
// Cyclic-ownership re-architecture (spec.md §9): a Request never holds a
// pointer back to its Backend Handle. Callers resolve a Handle through the
// Manager, hold the shared reference themselves, and pass the Handle's
// Enqueue method (or the handle itself) separately; the Request only
// borrows the handle's Config for the duration of Prepare/Enqueue.
package request

import (
	"strconv"
	"sync"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// RequestedOutput names one output the caller wants back, with an optional
// classification top-K count (spec.md §3 data-model supplement, grounded
// on original_source's InferRequestedOutput classification support).
type RequestedOutput struct {
	Name               string
	ClassificationTopK int
}

// Flag bits accepted on SetFlags. This module does not implement
// sequence-batching semantics (out of scope); the bits simply round-trip
// opaquely for a future scheduler, per spec.md §9.
const (
	FlagSequenceStart uint32 = 1 << 0
	FlagSequenceEnd   uint32 = 1 << 1
)

// Request is the owned, caller-built inference request object.
type Request struct {
	mu sync.Mutex

	id            string
	correlationID string
	flags         uint32

	modelName        string
	requestedVersion int64
	priority         int
	timeoutMicros    int64

	originalInputs map[string]types.Tensor
	overrideInputs map[string]types.Tensor
	inputOrder     []string // preserves AddOriginalInput call order for determinism

	requestedOutputs map[string]RequestedOutput
	outputOrder      []string

	needsNormalization bool

	// callerBatchSize is the request-level batch size under profile V1
	// (spec.md §4.5 Profile V1, where batch size is not derived from a
	// leading input dimension). Zero means "unset", resolved to 1 by
	// Prepare.
	callerBatchSize int

	// Set by Prepare; frozen thereafter until a mutation clears them.
	prepared       bool
	profile        types.NormalizationProfile
	batchSize      int
	preparedInputs map[string]types.Tensor // batch dim stripped when model batches

	// Set by the scheduler at enqueue time.
	enqueuedAtMicros int64

	releaseMu   sync.Mutex
	releaseFunc func(error)
}

// New returns a Request for modelName with requestedVersion -1 ("policy
// chooses") and default priority/timeout.
func New(id, modelName string) *Request {
	return &Request{
		id:                 id,
		modelName:          modelName,
		requestedVersion:   -1,
		originalInputs:     make(map[string]types.Tensor),
		overrideInputs:     make(map[string]types.Tensor),
		requestedOutputs:   make(map[string]RequestedOutput),
		needsNormalization: true,
	}
}

func (r *Request) ID() string              { return r.id }
func (r *Request) ModelName() string       { return r.modelName }
func (r *Request) RequestedVersion() int64 { return r.requestedVersion }
func (r *Request) Priority() int           { return r.priority }
func (r *Request) TimeoutMicros() int64    { return r.timeoutMicros }
func (r *Request) CorrelationID() string   { return r.correlationID }
func (r *Request) Flags() uint32           { return r.flags }
func (r *Request) NeedsNormalization() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsNormalization
}

// SetPriority stores the caller-requested priority; resolution against the
// model's MaxPriorityLevel/DefaultPriorityLevel happens in Prepare (spec.md
// §4.5 step 1).
func (r *Request) SetPriority(p int) { r.mu.Lock(); r.priority = p; r.mu.Unlock() }

// SetTimeoutMicroseconds sets the per-request deadline relative to enqueue
// time.
func (r *Request) SetTimeoutMicroseconds(us int64) { r.mu.Lock(); r.timeoutMicros = us; r.mu.Unlock() }

// SetCorrelationId sets the caller-supplied correlation id (sequence
// grouping hint; opaque here, sequence batching is out of scope).
func (r *Request) SetCorrelationId(id string) { r.mu.Lock(); r.correlationID = id; r.mu.Unlock() }

// SetFlags sets the opaque flag bitmask.
func (r *Request) SetFlags(f uint32) { r.mu.Lock(); r.flags = f; r.mu.Unlock() }

// SetRequestedVersion overrides the requested version (-1 means
// policy-chosen).
func (r *Request) SetRequestedVersion(v int64) { r.mu.Lock(); r.requestedVersion = v; r.mu.Unlock() }

// SetBatchSize sets the request-level batch size consulted by profile V1
// normalization (spec.md §4.5 Profile V1). Ignored under profile V2, where
// batch size is derived from the inputs' leading dimension.
func (r *Request) SetBatchSize(n int) {
	r.mu.Lock()
	r.callerBatchSize = n
	r.markDirty()
	r.mu.Unlock()
}

// AddOriginalInput adds or replaces an original input tensor and marks the
// request for re-normalization.
func (r *Request) AddOriginalInput(t types.Tensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.originalInputs[t.Name]; !exists {
		r.inputOrder = append(r.inputOrder, t.Name)
	}
	r.originalInputs[t.Name] = t
	r.markDirty()
}

// RemoveOriginalInput removes an original input by name. Removing a name
// that was never added is a no-op (still marks dirty, matching the
// original's permissive semantics).
func (r *Request) RemoveOriginalInput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.originalInputs[name]; ok {
		delete(r.originalInputs, name)
		r.inputOrder = removeString(r.inputOrder, name)
	}
	r.markDirty()
}

// AddOverrideInput injects an override input (e.g. from an ensembling or
// pipelining caller) that takes precedence over any original input of the
// same name. Permitted even immediately after RemoveOriginalInput for the
// same name without an intervening Prepare (spec.md §9 Open Question,
// resolved permissive).
func (r *Request) AddOverrideInput(t types.Tensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrideInputs[t.Name] = t
	r.markDirty()
}

// RemoveOverrideInput removes a previously added override.
func (r *Request) RemoveOverrideInput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrideInputs, name)
	r.markDirty()
}

// AddRequestedOutput requests output name back, with an optional
// classification top-K.
func (r *Request) AddRequestedOutput(name string, classificationTopK int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requestedOutputs[name]; !exists {
		r.outputOrder = append(r.outputOrder, name)
	}
	r.requestedOutputs[name] = RequestedOutput{Name: name, ClassificationTopK: classificationTopK}
	r.markDirty()
}

// RemoveRequestedOutput un-requests output name.
func (r *Request) RemoveRequestedOutput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requestedOutputs[name]; ok {
		delete(r.requestedOutputs, name)
		r.outputOrder = removeString(r.outputOrder, name)
	}
	r.markDirty()
}

// markDirty must be called with r.mu held; it clears the frozen state and
// sets needsNormalization, matching the "round-trip leaves the input set
// unchanged and sets needs_normalization" law of spec.md §8.
func (r *Request) markDirty() {
	r.needsNormalization = true
	r.prepared = false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// SetReleaseFunc installs the callback invoked exactly once when the
// request's outcome is known, mirroring the original's
// InferenceRequest::ReleaseFunc ownership-return mechanism (spec.md §3
// data model supplement).
func (r *Request) SetReleaseFunc(f func(error)) {
	r.releaseMu.Lock()
	r.releaseFunc = f
	r.releaseMu.Unlock()
}

// Release invokes the installed release callback, if any, exactly once.
func (r *Request) Release(err error) {
	r.releaseMu.Lock()
	f := r.releaseFunc
	r.releaseFunc = nil
	r.releaseMu.Unlock()
	if f != nil {
		f(err)
	}
}

// SetEnqueuedAtMicros records when the scheduler accepted this request,
// for timeout and FIFO-ordering purposes (spec.md §4.6).
func (r *Request) SetEnqueuedAtMicros(us int64) { r.mu.Lock(); r.enqueuedAtMicros = us; r.mu.Unlock() }
func (r *Request) EnqueuedAtMicros() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueuedAtMicros
}

// DeadlineMicros returns the absolute deadline, or 0 if no timeout was set.
func (r *Request) DeadlineMicros() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timeoutMicros <= 0 {
		return 0
	}
	return r.enqueuedAtMicros + r.timeoutMicros
}

// BatchSize returns the normalized batch size; valid only after Prepare.
func (r *Request) BatchSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchSize
}

// Profile returns the normalization profile used by the last Prepare.
func (r *Request) Profile() types.NormalizationProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

// InputTensors implements backend.RequestView: the frozen, normalized
// input tensors in a stable order, valid only after Prepare.
func (r *Request) InputTensors() []types.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Tensor, 0, len(r.preparedInputs))
	for _, name := range r.frozenInputOrder() {
		out = append(out, r.preparedInputs[name])
	}
	return out
}

// frozenInputOrder must be called with r.mu held.
func (r *Request) frozenInputOrder() []string {
	order := make([]string, 0, len(r.preparedInputs))
	seen := make(map[string]bool, len(r.preparedInputs))
	for _, n := range r.inputOrder {
		if _, ok := r.preparedInputs[n]; ok && !seen[n] {
			order = append(order, n)
			seen[n] = true
		}
	}
	for n := range r.preparedInputs {
		if !seen[n] {
			order = append(order, n)
			seen[n] = true
		}
	}
	return order
}

// RequestedOutputs implements backend.RequestView.
func (r *Request) RequestedOutputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requestedOutputs))
	for _, n := range r.outputOrder {
		if _, ok := r.requestedOutputs[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Classification implements backend.RequestView.
func (r *Request) Classification(outputName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestedOutputs[outputName].ClassificationTopK
}

// OutputSignature returns a comparable key describing this request's
// requested-output set, used by the scheduler to test batch compatibility
// (spec.md §4.6 step 3: "identical requested-output sets").
func (r *Request) OutputSignature() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig := ""
	for _, n := range r.outputOrder {
		ro, ok := r.requestedOutputs[n]
		if !ok {
			continue
		}
		sig += n + ":" + strconv.Itoa(ro.ClassificationTopK) + ";"
	}
	return sig
}

// ShapeSignature returns a comparable key describing this request's
// per-input working shapes (post-normalization, batch dim stripped),
// used by the scheduler to test batch compatibility (spec.md §4.6 step 3).
func (r *Request) ShapeSignature() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig := ""
	for _, n := range r.frozenInputOrder() {
		t := r.preparedInputs[n]
		sig += n + ":" + string(t.Datatype) + ":"
		for _, d := range t.Shape {
			sig += strconv.FormatInt(d, 10) + ","
		}
		sig += ";"
	}
	return sig
}

// validateOutputs checks every requested output name exists in cfg
// (spec.md §4.5 step 2).
func validateOutputs(cfg *types.ModelConfig, names []string) error {
	for _, n := range names {
		if _, ok := cfg.OutputByName(n); !ok {
			return apierrors.NotFound("requested output not found: " + n)
		}
	}
	return nil
}
