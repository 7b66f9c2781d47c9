// Package response implements the Response Builder (spec.md §2, §6): it
// allocates output buffers through a caller-supplied Allocator collaborator
// and packages one Backend Run outcome into a Response the caller reads
// back ordered by requested-output name.
//
// Grounded on internal/backend.Handle's Run/ResultSink contract and on the
// teacher's httpapi error-mapping convention (a failed allocation fails
// that request's whole Response, not the rest of its batch).
package response

import (
	"encoding/binary"
	"math"
	"strconv"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// Allocator is the three-callback collaborator interface spec.md §6
// requires the Response Builder to consume: Alloc reserves a buffer for
// one named output, Release returns it once the caller is done reading.
// Implementations may downgrade the requested memory type (e.g. pinned to
// pageable); the core records and uses the actual type returned.
type Allocator interface {
	Alloc(name string, byteSize uint64, preferredType types.MemoryType, preferredDeviceID int) (buf []byte, userp any, actualType types.MemoryType, actualDeviceID int, err error)
	Release(buf []byte, userp any, byteSize uint64, actualType types.MemoryType, deviceID int)
}

// Output is one named tensor result, classification labels (when the
// request asked for top-K classification on this output), the buffer that
// backs it, and the memory placement the allocator actually used.
type Output struct {
	Name            string
	Datatype        types.Datatype
	Shape           []int64
	Buffer          []byte
	ByteSize        uint64
	MemoryType      types.MemoryType
	DeviceID        int
	UserPtr         any
	Classifications []Classification // non-nil only for classification outputs
}

// Classification is one label/probability pair produced when a requested
// output carries ClassificationTopK > 0 (spec.md §3 data-model supplement,
// grounded on original_source's InferRequestedOutput classification
// support).
type Classification struct {
	Label       string
	Probability float32
}

// Response is the ordered result of one Request's completion plus a
// top-level Status (spec.md §6 "Response reader").
type Response struct {
	RequestID string
	Outputs   []Output
	Status    error
}

// Builder packages Backend outputs into a Response, allocating each
// output's buffer through alloc. One Builder may be shared across
// concurrent Run calls; it holds no per-request state of its own.
type Builder struct {
	alloc      Allocator
	allocUserp any
}

// New returns a Builder that allocates through alloc. No opaque
// alloc_userp is taken or passed to Alloc; allocUserp stays nil.
func New(alloc Allocator) *Builder {
	return &Builder{alloc: alloc}
}

// Build packages tensors produced by a backend Run into a Response for
// requestID, allocating and copying each tensor's bytes into a
// caller-owned buffer. An allocation failure for any output fails the
// whole Response: it carries only a Status and no Outputs (spec.md §7).
func (b *Builder) Build(requestID string, tensors []types.Tensor, classificationTopK map[string]int) *Response {
	outputs := make([]Output, 0, len(tensors))
	seen := make(map[string]bool, len(tensors))
	for _, t := range tensors {
		if seen[t.Name] {
			outputs = append(outputs, Output{Name: t.Name})
			continue
		}
		seen[t.Name] = true
		out, err := b.buildOne(t, classificationTopK[t.Name])
		if err != nil {
			return &Response{RequestID: requestID, Status: err}
		}
		outputs = append(outputs, out)
	}
	return &Response{RequestID: requestID, Outputs: outputs}
}

// BuildError returns a Response carrying only a Status, used when the
// backend failed the whole request before producing any tensors.
func BuildError(requestID string, err error) *Response {
	return &Response{RequestID: requestID, Status: err}
}

func (b *Builder) buildOne(t types.Tensor, topK int) (Output, error) {
	buf, userp, actualType, actualDevice, err := b.alloc.Alloc(t.Name, t.ByteSize, types.MemoryCPU, 0)
	if err != nil {
		return Output{}, apierrors.Internal("allocator failed for output " + t.Name + ": " + err.Error())
	}
	if uint64(len(buf)) < t.ByteSize {
		// Allocator contract violation: spec.md §7 fatal condition
		// "allocator contract violation (returning a buffer smaller than
		// requested)".
		return Output{}, apierrors.Internal("allocator returned undersized buffer for output " + t.Name)
	}
	n := copy(buf, t.Data)
	out := Output{
		Name:       t.Name,
		Datatype:   t.Datatype,
		Shape:      t.Shape,
		Buffer:     buf[:n],
		ByteSize:   t.ByteSize,
		MemoryType: actualType,
		DeviceID:   actualDevice,
		UserPtr:    userp,
	}
	if topK > 0 {
		out.Classifications = classify(t, topK)
	}
	return out, nil
}

// classify derives up to topK label/probability pairs from a fixed-size
// float output tensor, mirroring Triton's classification post-processing
// for classifier models (spec.md §3 data-model supplement). Non-float
// outputs cannot be classified and yield no pairs.
func classify(t types.Tensor, topK int) []Classification {
	if t.Datatype != types.TypeFP32 {
		return nil
	}
	vals := decodeFP32(t.Data)
	type scored struct {
		idx int
		val float32
	}
	scoredVals := make([]scored, len(vals))
	for i, v := range vals {
		scoredVals[i] = scored{idx: i, val: v}
	}
	for i := 1; i < len(scoredVals); i++ {
		for j := i; j > 0 && scoredVals[j-1].val < scoredVals[j].val; j-- {
			scoredVals[j-1], scoredVals[j] = scoredVals[j], scoredVals[j-1]
		}
	}
	if topK > len(scoredVals) {
		topK = len(scoredVals)
	}
	out := make([]Classification, 0, topK)
	for i := 0; i < topK; i++ {
		out = append(out, Classification{
			Label:       strconv.Itoa(scoredVals[i].idx),
			Probability: scoredVals[i].val,
		})
	}
	return out
}

func decodeFP32(data []byte) []float32 {
	out := make([]float32, 0, len(data)/4)
	for off := 0; off+4 <= len(data); off += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(data[off:off+4])))
	}
	return out
}
