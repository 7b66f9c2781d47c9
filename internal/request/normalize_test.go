package request

import (
	"encoding/binary"
	"testing"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

func batchingConfig() *types.ModelConfig {
	return &types.ModelConfig{
		Name:         "sum",
		MaxBatchSize: 4,
		Inputs: []types.TensorConfig{
			{Name: "INPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
			{Name: "INPUT1", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
		Outputs: []types.TensorConfig{
			{Name: "OUTPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
	}
}

func le32(v int32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }

func TestPrepareProfileV2DerivesBatchSizeFromLeadingDim(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-1", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{2, 1}, Data: append(le32(1), le32(2)...), ByteSize: 8})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{2, 1}, Data: append(le32(3), le32(4)...), ByteSize: 8})
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if req.Profile() != types.ProfileV2 {
		t.Fatalf("expected ProfileV2, got %v", req.Profile())
	}
	if got := req.BatchSize(); got != 2 {
		t.Fatalf("expected batch size 2, got %d", got)
	}
	for _, in := range req.InputTensors() {
		if len(in.Shape) != 1 || in.Shape[0] != 1 {
			t.Fatalf("expected batch dim stripped, got shape %v", in.Shape)
		}
	}
}

func TestPrepareProfileV2RejectsDisagreeingLeadingDims(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-2", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{2, 1}, Data: append(le32(1), le32(2)...), ByteSize: 8})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{3, 1}, Data: append(le32(1), append(le32(2), le32(3)...)...), ByteSize: 12})
	req.AddRequestedOutput("OUTPUT0", 0)

	err := req.Prepare(cfg)
	if !apierrors.IsInvalidArg(err) {
		t.Fatalf("expected InvalidArg, got %v", err)
	}
}

func TestPrepareProfileV1UsesCallerBatchSize(t *testing.T) {
	cfg := batchingConfig()
	cfg.Normalization = types.ProfileV1
	req := New("req-3", "sum")
	req.SetBatchSize(3)
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(1), ByteSize: 4})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(2), ByteSize: 4})
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if req.Profile() != types.ProfileV1 {
		t.Fatalf("expected ProfileV1, got %v", req.Profile())
	}
	if got := req.BatchSize(); got != 3 {
		t.Fatalf("expected batch size 3, got %d", got)
	}
}

func TestPrepareProfileV1DefaultsBatchSizeToOne(t *testing.T) {
	cfg := batchingConfig()
	cfg.Normalization = types.ProfileV1
	req := New("req-4", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(1), ByteSize: 4})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(2), ByteSize: 4})
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := req.BatchSize(); got != 1 {
		t.Fatalf("expected default batch size 1, got %d", got)
	}
}

func TestPrepareRejectsWrongInputCount(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-5", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(1), ByteSize: 4})
	req.AddRequestedOutput("OUTPUT0", 0)

	err := req.Prepare(cfg)
	if !apierrors.IsInvalidArg(err) {
		t.Fatalf("expected InvalidArg for missing input, got %v", err)
	}
}

func TestPrepareRejectsUnknownRequestedOutput(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-6", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(1), ByteSize: 4})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(2), ByteSize: 4})
	req.AddRequestedOutput("NOPE", 0)

	err := req.Prepare(cfg)
	if !apierrors.IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown output, got %v", err)
	}
}

func TestPrepareOverrideInputTakesPrecedenceOverOriginal(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-7", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(1), ByteSize: 4})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(2), ByteSize: 4})
	req.RemoveOriginalInput("INPUT1")
	req.AddOverrideInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(9), ByteSize: 4})
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, in := range req.InputTensors() {
		if in.Name == "INPUT1" {
			got := int32(binary.LittleEndian.Uint32(in.Data))
			if got != 9 {
				t.Fatalf("expected override value 9, got %d", got)
			}
		}
	}
}

func bytesTensor(name string, elems ...string) types.Tensor {
	var buf []byte
	for _, s := range elems {
		lb := make([]byte, 4)
		binary.LittleEndian.PutUint32(lb, uint32(len(s)))
		buf = append(buf, lb...)
		buf = append(buf, []byte(s)...)
	}
	return types.Tensor{Name: name, Datatype: types.TypeBytes, Shape: []int64{int64(len(elems)), 1}, Data: buf, ByteSize: uint64(len(buf))}
}

func TestPrepareAcceptsWellFormedBytesInput(t *testing.T) {
	cfg := batchingConfig()
	cfg.Inputs[0].Datatype = types.TypeBytes
	cfg.Inputs[1].Datatype = types.TypeBytes
	req := New("req-8", "sum")
	req.AddOriginalInput(bytesTensor("INPUT0", "1", "2"))
	req.AddOriginalInput(bytesTensor("INPUT1", "3", "4"))
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
}

func TestPrepareRejectsUndersizedBytesByteSize(t *testing.T) {
	cfg := batchingConfig()
	cfg.Inputs[0].Datatype = types.TypeBytes
	cfg.Inputs[1].Datatype = types.TypeBytes
	req := New("req-9", "sum")
	in0 := bytesTensor("INPUT0", "1", "2")
	in0.ByteSize = in0.ByteSize - 1 // caller under-declares the true payload size
	req.AddOriginalInput(in0)
	req.AddOriginalInput(bytesTensor("INPUT1", "3", "4"))
	req.AddRequestedOutput("OUTPUT0", 0)

	err := req.Prepare(cfg)
	if !apierrors.IsInvalidArg(err) {
		t.Fatalf("expected InvalidArg for undersized byte_size, got %v", err)
	}
}

func TestPrepareIsIdempotentWithoutInterveningMutation(t *testing.T) {
	cfg := batchingConfig()
	req := New("req-10", "sum")
	req.AddOriginalInput(types.Tensor{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(1), ByteSize: 4})
	req.AddOriginalInput(types.Tensor{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1, 1}, Data: le32(2), ByteSize: 4})
	req.AddRequestedOutput("OUTPUT0", 0)

	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	first := req.InputTensors()
	if err := req.Prepare(cfg); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	second := req.InputTensors()
	if len(first) != len(second) {
		t.Fatalf("expected idempotent re-Prepare to leave the input set unchanged")
	}
}
