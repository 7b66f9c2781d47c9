package echo

import (
	"context"
	"encoding/binary"
	"testing"

	"modeld/internal/apierrors"
	"modeld/internal/backend"
	"modeld/pkg/types"
)

func intConfig() *types.ModelConfig {
	return &types.ModelConfig{
		Name:         "sum",
		MaxBatchSize: 0,
		Inputs: []types.TensorConfig{
			{Name: "INPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
			{Name: "INPUT1", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
		Outputs: []types.TensorConfig{
			{Name: "OUTPUT0", Datatype: types.TypeInt32, Dims: []int64{1}},
			{Name: "OUTPUT1", Datatype: types.TypeInt32, Dims: []int64{1}},
		},
	}
}

type fakeView struct {
	inputs  []types.Tensor
	outputs []string
}

func (v fakeView) InputTensors() []types.Tensor { return v.inputs }
func (v fakeView) RequestedOutputs() []string   { return v.outputs }
func (v fakeView) BatchSize() int               { return 1 }
func (v fakeView) Classification(string) int    { return 0 }

type fakeSink struct {
	outputs []types.Tensor
	err     error
}

func (s *fakeSink) Complete(outputs []types.Tensor, err error) {
	s.outputs = outputs
	s.err = err
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func TestRunComputesSumAndDifference(t *testing.T) {
	cfg := intConfig()
	h, err := Factory{}.Build("sum", 1, cfg, "/nonexistent")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	view := fakeView{
		inputs: []types.Tensor{
			{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(7)},
			{Name: "INPUT1", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(3)},
		},
		outputs: []string{"OUTPUT0", "OUTPUT1"},
	}
	sink := &fakeSink{}
	h.Run(context.Background(), []backend.RequestView{view}, []backend.ResultSink{sink})

	if sink.err != nil {
		t.Fatalf("unexpected error: %v", sink.err)
	}
	if len(sink.outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(sink.outputs))
	}
	got := map[string]int32{}
	for _, o := range sink.outputs {
		got[o.Name] = int32(binary.LittleEndian.Uint32(o.Data))
	}
	if got["OUTPUT0"] != 10 {
		t.Fatalf("expected OUTPUT0 == 10, got %d", got["OUTPUT0"])
	}
	if got["OUTPUT1"] != 4 {
		t.Fatalf("expected OUTPUT1 == 4, got %d", got["OUTPUT1"])
	}

	stats := h.Stats()
	if stats.InferCount != 1 {
		t.Fatalf("expected InferCount 1, got %d", stats.InferCount)
	}
}

func TestRunRejectsWrongInputCount(t *testing.T) {
	cfg := intConfig()
	h, _ := Factory{}.Build("sum", 1, cfg, "/nonexistent")

	view := fakeView{
		inputs:  []types.Tensor{{Name: "INPUT0", Datatype: types.TypeInt32, Shape: []int64{1}, Data: le32(1)}},
		outputs: []string{"OUTPUT0"},
	}
	sink := &fakeSink{}
	h.Run(context.Background(), []backend.RequestView{view}, []backend.ResultSink{sink})

	if !apierrors.IsInvalidArg(sink.err) {
		t.Fatalf("expected InvalidArg, got %v", sink.err)
	}
}

func TestRunRoundTripsBytesDatatype(t *testing.T) {
	cfg := intConfig()
	cfg.Inputs[0].Datatype = types.TypeBytes
	cfg.Inputs[1].Datatype = types.TypeBytes
	cfg.Outputs[0].Datatype = types.TypeBytes
	h, _ := Factory{}.Build("sum", 1, cfg, "/nonexistent")

	view := fakeView{
		inputs: []types.Tensor{
			{Name: "INPUT0", Datatype: types.TypeBytes, Shape: []int64{1}, Data: bytesElement("5")},
			{Name: "INPUT1", Datatype: types.TypeBytes, Shape: []int64{1}, Data: bytesElement("2")},
		},
		outputs: []string{"OUTPUT0"},
	}
	sink := &fakeSink{}
	h.Run(context.Background(), []backend.RequestView{view}, []backend.ResultSink{sink})

	if sink.err != nil {
		t.Fatalf("unexpected error: %v", sink.err)
	}
	if len(sink.outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(sink.outputs))
	}
	got := decodeBytesElement(sink.outputs[0].Data)
	if got != "7" {
		t.Fatalf("expected \"7\", got %q", got)
	}
}

func bytesElement(s string) []byte {
	lb := make([]byte, 4)
	binary.LittleEndian.PutUint32(lb, uint32(len(s)))
	return append(lb, []byte(s)...)
}

func decodeBytesElement(data []byte) string {
	n := binary.LittleEndian.Uint32(data[:4])
	return string(data[4 : 4+n])
}

func TestGetInputGetOutputNotFound(t *testing.T) {
	cfg := intConfig()
	h, _ := Factory{}.Build("sum", 1, cfg, "/nonexistent")

	if _, err := h.GetInput("NOPE"); !apierrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := h.GetOutput("NOPE"); !apierrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
