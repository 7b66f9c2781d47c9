package request

import (
	"modeld/internal/apierrors"
	"modeld/internal/modelconfig"
	"modeld/pkg/types"
)

// Prepare normalizes the request against cfg (spec.md §4.5). It is
// idempotent: calling it again without an intervening mutation is a no-op.
//
// Re-architecture note (spec.md §9 "Dual-profile normalization"): the
// profile comes from cfg.EffectiveProfile() and picks one of the two
// coverage-equivalent strategies below, profileV1 or profileV2. The choice
// is made on every Prepare call; it is not cached per model.
func (r *Request) Prepare(cfg *types.ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.prepared && !r.needsNormalization {
		return nil
	}

	profile := cfg.EffectiveProfile()

	// Step 1: priority resolution.
	maxLevel := cfg.MaxPriorityLevel()
	priority := r.priority
	if priority == 0 || priority > maxLevel {
		priority = cfg.DefaultPriorityLevel()
	}

	// Rebuild the frozen input map: originals, then overrides on top.
	merged := make(map[string]types.Tensor, len(r.originalInputs)+len(r.overrideInputs))
	for k, v := range r.originalInputs {
		merged[k] = v
	}
	for k, v := range r.overrideInputs {
		merged[k] = v
	}

	// Step 2: requested-output validation.
	outputs := make([]string, 0, len(r.requestedOutputs))
	for _, n := range r.outputOrder {
		if _, ok := r.requestedOutputs[n]; ok {
			outputs = append(outputs, n)
		}
	}
	if err := validateOutputs(cfg, outputs); err != nil {
		return err
	}

	// Step 3 (I1): input count.
	if len(merged) != len(cfg.Inputs) {
		return apierrors.InvalidArg("input count does not match model configuration")
	}

	var strategy normalizer
	if profile == types.ProfileV1 {
		strategy = profileV1{}
	} else {
		strategy = profileV2{}
	}

	batchSize, preparedInputs, err := strategy.normalize(cfg, merged, r.callerBatchSize)
	if err != nil {
		return err
	}

	r.priority = priority
	r.profile = profile
	r.batchSize = batchSize
	r.preparedInputs = preparedInputs
	r.prepared = true
	r.needsNormalization = false
	return nil
}

// normalizer is the dual-profile strategy interface (spec.md §9). Each
// implementation derives batch_size and the per-input working shapes
// (post reshape/wildcard resolution) from the merged input map.
type normalizer interface {
	normalize(cfg *types.ModelConfig, inputs map[string]types.Tensor, callerBatchSize int) (batchSize int, prepared map[string]types.Tensor, err error)
}

// profileV2: batch size is the common leading dim of inputs; per-input
// shapes carry it and are stripped during normalize (spec.md §4.5 Profile
// V2, the default).
type profileV2 struct{}

func (profileV2) normalize(cfg *types.ModelConfig, inputs map[string]types.Tensor, _ int) (int, map[string]types.Tensor, error) {
	batching := cfg.MaxBatchSize > 0
	batchSize := 1
	prepared := make(map[string]types.Tensor, len(inputs))

	first := true
	for name, t := range inputs {
		inCfg, ok := cfg.InputByName(name)
		if !ok {
			return 0, nil, apierrors.NotFound("unknown input: " + name)
		}
		working := t.Shape
		if batching {
			if len(t.Shape) == 0 {
				return 0, nil, apierrors.InvalidArg("batching model requires a leading batch dimension on input " + name)
			}
			leading := t.Shape[0]
			if first {
				batchSize = int(leading)
				first = false
			} else if int(leading) != batchSize {
				return 0, nil, apierrors.InvalidArg("inputs disagree on leading batch dimension")
			}
			working = t.Shape[1:]
		}
		resolved, err := resolveInputShape(&inCfg, working)
		if err != nil {
			return 0, nil, err
		}
		if inCfg.Datatype.IsVariableSize() {
			if err := validateVariableSizeByteSize(name, &t); err != nil {
				return 0, nil, err
			}
		}
		nt := t
		nt.Shape = resolved
		nt.Datatype = inCfg.Datatype
		nt.ByteSize = byteSizeFor(&inCfg, resolved, &t)
		prepared[name] = nt
	}

	if err := checkBatchBounds(cfg, batchSize); err != nil {
		return 0, nil, err
	}
	return batchSize, prepared, nil
}

// profileV1: batch size is a request-level integer; per-input shapes do
// not carry the batch dim; byte-size check cross-validates caller-supplied
// sizes (spec.md §4.5 Profile V1).
type profileV1 struct{}

func (profileV1) normalize(cfg *types.ModelConfig, inputs map[string]types.Tensor, callerBatchSize int) (int, map[string]types.Tensor, error) {
	prepared := make(map[string]types.Tensor, len(inputs))

	for name, t := range inputs {
		inCfg, ok := cfg.InputByName(name)
		if !ok {
			return 0, nil, apierrors.NotFound("unknown input: " + name)
		}
		resolved, err := resolveInputShape(&inCfg, t.Shape)
		if err != nil {
			return 0, nil, err
		}
		expected := byteSizeFor(&inCfg, resolved, &t)
		if inCfg.Datatype.IsVariableSize() {
			if err := validateVariableSizeByteSize(name, &t); err != nil {
				return 0, nil, err
			}
		} else if t.ByteSize != 0 && t.ByteSize != expected {
			return 0, nil, apierrors.InvalidArg("caller-supplied byte size does not match shape/datatype for input " + name)
		}
		nt := t
		nt.Shape = resolved
		nt.Datatype = inCfg.Datatype
		if inCfg.Datatype.IsVariableSize() {
			nt.ByteSize = t.ByteSize
		} else {
			nt.ByteSize = expected
		}
		prepared[name] = nt
	}
	batchSize := callerBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	if err := checkBatchBounds(cfg, batchSize); err != nil {
		return 0, nil, err
	}
	return batchSize, prepared, nil
}

// resolveInputShape applies I2 (CompareDimsWithWildcard) and, if
// configured, I4 (reshape wildcard propagation).
func resolveInputShape(cfg *types.TensorConfig, workingShape []int64) ([]int64, error) {
	if modelconfig.HasWildcard(workingShape) {
		return nil, apierrors.InvalidArg("variable-size dimension on input " + cfg.Name + ": request must specify a concrete shape")
	}
	if !modelconfig.CompareDimsWithWildcard(cfg.Dims, workingShape) {
		return nil, apierrors.InvalidArg("shape mismatch on input " + cfg.Name)
	}
	if cfg.Reshape == nil {
		return workingShape, nil
	}
	out, ok := modelconfig.ApplyReshape(cfg.Dims, workingShape, cfg.Reshape.Shape)
	if !ok {
		return nil, apierrors.InvalidArg("reshape wildcard propagation failed for input " + cfg.Name)
	}
	return out, nil
}

// validateVariableSizeByteSize cross-checks t's caller-declared ByteSize
// against the sum of per-element 4-byte length prefixes plus payload found
// in t.Data, for TypeBytes inputs (spec.md §3, supplemented from
// original_source's InferenceRequest::Normalize). An undersized or
// malformed caller-supplied size is InvalidArg.
func validateVariableSizeByteSize(name string, t *types.Tensor) error {
	var computed uint64
	for off := 0; off < len(t.Data); {
		if off+4 > len(t.Data) {
			return apierrors.InvalidArg("truncated BYTES length prefix on input " + name)
		}
		n := uint64(t.Data[off]) | uint64(t.Data[off+1])<<8 | uint64(t.Data[off+2])<<16 | uint64(t.Data[off+3])<<24
		off += 4
		if uint64(off)+n > uint64(len(t.Data)) {
			return apierrors.InvalidArg("truncated BYTES element payload on input " + name)
		}
		off += int(n)
		computed += 4 + n
	}
	if t.ByteSize < computed {
		return apierrors.InvalidArg("caller-supplied byte_size is smaller than the BYTES payload for input " + name)
	}
	return nil
}

func byteSizeFor(cfg *types.TensorConfig, shape []int64, t *types.Tensor) uint64 {
	if cfg.Datatype.IsVariableSize() {
		return t.ByteSize
	}
	w := cfg.Datatype.ByteWidth()
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return uint64(n) * uint64(w)
}

func checkBatchBounds(cfg *types.ModelConfig, batchSize int) error {
	if batchSize == 0 {
		return apierrors.InvalidArg("batch_size must be >= 1")
	}
	if cfg.MaxBatchSize > 0 && batchSize > cfg.MaxBatchSize {
		return apierrors.InvalidArg("batch_size exceeds max_batch_size")
	}
	if cfg.MaxBatchSize == 0 && batchSize != 1 {
		return apierrors.InvalidArg("non-batching model requires batch_size == 1")
	}
	return nil
}
