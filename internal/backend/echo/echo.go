// Package echo implements a deterministic reference Backend (spec.md §4.3)
// used by this module's own tests in lieu of a real framework adapter
// (TensorRT/ONNX Runtime/Torch/llama.cpp integration is an explicit
// non-goal, spec.md §1). It follows Triton's "simple"/"simple_string"
// example models: given exactly two inputs, OUTPUT0 is their elementwise
// sum and OUTPUT1 is their elementwise difference, encoded in whatever
// datatype the model config declares for that output.
//
// Grounded on internal/backend.Handle/Factory and on the teacher's
// adapter-via-interface pattern (former internal/manager/adapter_iface.go).
package echo

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"modeld/internal/apierrors"
	"modeld/internal/backend"
	"modeld/pkg/types"
)

// Factory builds echo Handles; it never fails to build (there is no
// framework session to load), making it useful for exercising the Manager
// state machine independent of load latency/failure.
type Factory struct{}

func (Factory) Build(name string, version int64, cfg *types.ModelConfig, versionDir string) (backend.Handle, error) {
	return &handle{name: name, version: version, cfg: cfg}, nil
}

type handle struct {
	backendStats
	name    string
	version int64
	cfg     *types.ModelConfig
}

// backendStats holds the echo handle's own Stats counters as plain fields;
// backend.statsTracker is unexported and is not used here.
type backendStats struct {
	inferCount    uint64
	inferExecUsec uint64
	lastBatchSize int
}

func (h *handle) Name() string               { return h.name }
func (h *handle) Version() int64             { return h.version }
func (h *handle) Config() *types.ModelConfig { return h.cfg }

func (h *handle) MaxPriorityLevel() int     { return h.cfg.MaxPriorityLevel() }
func (h *handle) DefaultPriorityLevel() int { return h.cfg.DefaultPriorityLevel() }

func (h *handle) GetInput(name string) (types.TensorConfig, error) {
	if t, ok := h.cfg.InputByName(name); ok {
		return t, nil
	}
	return types.TensorConfig{}, backend.NotFoundInput(name)
}

func (h *handle) GetOutput(name string) (types.TensorConfig, error) {
	if t, ok := h.cfg.OutputByName(name); ok {
		return t, nil
	}
	return types.TensorConfig{}, backend.NotFoundOutput(name)
}

func (h *handle) Stats() backend.Stats {
	return backend.Stats{
		InferCount:    h.inferCount,
		InferExecUsec: h.inferExecUsec,
		LastBatchSize: h.lastBatchSize,
	}
}

func (h *handle) Close() error { return nil }

// Run computes OUTPUT0 = INPUT0 + INPUT1 and OUTPUT1 = INPUT0 - INPUT1,
// per-element, for every request in the batch independently (so a batch
// completes partially on a per-request decode error, per spec.md §7).
func (h *handle) Run(ctx context.Context, batchReqs []backend.RequestView, sinks []backend.ResultSink) {
	start := time.Now()
	total := 0
	for i, req := range batchReqs {
		total += req.BatchSize()
		outputs, err := compute(req, h.cfg)
		sinks[i].Complete(outputs, err)
	}
	h.inferCount += uint64(total)
	h.inferExecUsec += uint64(time.Since(start).Microseconds())
	h.lastBatchSize = len(batchReqs)
}

func compute(req backend.RequestView, cfg *types.ModelConfig) ([]types.Tensor, error) {
	ins := req.InputTensors()
	if len(ins) != 2 {
		return nil, apierrors.InvalidArg("echo backend requires exactly two inputs")
	}
	a, err := decodeInts(ins[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeInts(ins[1])
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, apierrors.InvalidArg("echo backend requires equal-length inputs")
	}
	sum := make([]int64, len(a))
	diff := make([]int64, len(a))
	for i := range a {
		sum[i] = a[i] + b[i]
		diff[i] = a[i] - b[i]
	}
	outs := make([]types.Tensor, 0, 2)
	for _, want := range req.RequestedOutputs() {
		dt := ins[0].Datatype
		if oc, ok := cfg.OutputByName(want); ok {
			dt = oc.Datatype
		}
		switch want {
		case "OUTPUT0":
			outs = append(outs, encodeInts("OUTPUT0", sum, dt, ins[0].Shape))
		case "OUTPUT1":
			outs = append(outs, encodeInts("OUTPUT1", diff, dt, ins[0].Shape))
		default:
			return nil, apierrors.NotFound("unknown output: " + want)
		}
	}
	return outs, nil
}

func decodeInts(t types.Tensor) ([]int64, error) {
	if t.Datatype == types.TypeBytes {
		return decodeBytesInts(t.Data)
	}
	n := t.ElementCount()
	w := t.Datatype.ByteWidth()
	if w == 0 {
		return nil, apierrors.InvalidArg("unsupported datatype for echo backend: " + string(t.Datatype))
	}
	out := make([]int64, 0, n)
	for off := 0; off < len(t.Data); off += w {
		out = append(out, decodeOne(t.Datatype, t.Data[off:off+w]))
	}
	return out, nil
}

func decodeOne(dt types.Datatype, b []byte) int64 {
	switch dt {
	case types.TypeInt8, types.TypeUint8:
		return int64(b[0])
	case types.TypeInt16, types.TypeUint16:
		return int64(binary.LittleEndian.Uint16(b))
	case types.TypeInt32, types.TypeUint32:
		return int64(binary.LittleEndian.Uint32(b))
	case types.TypeInt64, types.TypeUint64:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

func decodeBytesInts(data []byte) ([]int64, error) {
	var out []int64
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, apierrors.InvalidArg("truncated BYTES length prefix")
		}
		l := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if off+int(l) > len(data) {
			return nil, apierrors.InvalidArg("truncated BYTES payload")
		}
		s := string(data[off : off+int(l)])
		off += int(l)
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, apierrors.InvalidArg("BYTES element is not an integer: " + s)
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeInts(name string, vals []int64, dt types.Datatype, shape []int64) types.Tensor {
	if dt == types.TypeBytes {
		return encodeBytesInts(name, vals, shape)
	}
	w := dt.ByteWidth()
	buf := make([]byte, 0, len(vals)*w)
	for _, v := range vals {
		buf = append(buf, encodeOne(dt, v)...)
	}
	return types.Tensor{Name: name, Datatype: dt, Shape: shape, Data: buf, ByteSize: uint64(len(buf))}
}

func encodeOne(dt types.Datatype, v int64) []byte {
	switch dt {
	case types.TypeInt8, types.TypeUint8:
		return []byte{byte(v)}
	case types.TypeInt16, types.TypeUint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b
	case types.TypeInt32, types.TypeUint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return b
	default:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		return b
	}
}

func encodeBytesInts(name string, vals []int64, shape []int64) types.Tensor {
	var buf []byte
	for _, v := range vals {
		s := strconv.FormatInt(v, 10)
		lb := make([]byte, 4)
		binary.LittleEndian.PutUint32(lb, uint32(len(s)))
		buf = append(buf, lb...)
		buf = append(buf, []byte(s)...)
	}
	return types.Tensor{Name: name, Datatype: types.TypeBytes, Shape: shape, Data: buf, ByteSize: uint64(len(buf))}
}
