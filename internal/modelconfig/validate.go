// Package modelconfig validates and normalizes a model's declarative
// configuration (spec.md §4.2) and carries the shape/reshape comparison
// helpers (I2/I4) shared with the request normalizer.
package modelconfig

import (
	"fmt"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// Validate cross-checks cfg against spec.md §3's invariants and §4.2's
// rules, returning an InvalidConfig error naming the first offending field.
func Validate(cfg *types.ModelConfig) error {
	if cfg.Name == "" {
		return apierrors.InvalidConfig("name", "model name must not be empty")
	}
	if cfg.MaxBatchSize < 0 {
		return apierrors.InvalidConfig("max_batch_size", "must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.Inputs))
	for i, in := range cfg.Inputs {
		if in.Name == "" {
			return apierrors.InvalidConfig(fmt.Sprintf("inputs[%d].name", i), "input name must not be empty")
		}
		if seen[in.Name] {
			return apierrors.InvalidConfig(fmt.Sprintf("inputs[%d].name", i), "duplicate input name "+in.Name)
		}
		seen[in.Name] = true
		if err := validateTensor(&in, "inputs["+in.Name+"]"); err != nil {
			return err
		}
		if err := validateShapeTensor(&in, "inputs["+in.Name+"]", cfg.MaxBatchSize); err != nil {
			return err
		}
	}
	seenOut := make(map[string]bool, len(cfg.Outputs))
	for i, out := range cfg.Outputs {
		if out.Name == "" {
			return apierrors.InvalidConfig(fmt.Sprintf("outputs[%d].name", i), "output name must not be empty")
		}
		if seenOut[out.Name] {
			return apierrors.InvalidConfig(fmt.Sprintf("outputs[%d].name", i), "duplicate output name "+out.Name)
		}
		seenOut[out.Name] = true
		if err := validateTensor(&out, "outputs["+out.Name+"]"); err != nil {
			return err
		}
	}
	if err := validateVersionPolicy(&cfg.VersionPolicy); err != nil {
		return err
	}
	if err := validateScheduling(cfg); err != nil {
		return err
	}
	return nil
}

func validateTensor(t *types.TensorConfig, prefix string) error {
	if t.Datatype == types.TypeInvalid {
		return apierrors.InvalidConfig(prefix+".data_type", "data_type must be set")
	}
	if t.Datatype.IsVariableSize() && !HasWildcard(t.Dims) {
		// variable-size (BYTES) tensors with a fully fixed shape are legal;
		// this only guards against declaring a reshape that can't pair.
	}
	if t.Reshape != nil {
		if CountWildcards(t.Reshape.Shape) != CountWildcards(t.Dims) {
			return apierrors.InvalidConfig(prefix+".reshape.shape",
				"reshape wildcard count must equal dims wildcard count")
		}
	}
	return nil
}

func validateShapeTensor(t *types.TensorConfig, prefix string, maxBatchSize int) error {
	if !t.IsShapeTensor {
		return nil
	}
	if t.Datatype != types.TypeInt32 && t.Datatype != types.TypeInt64 {
		return apierrors.InvalidConfig(prefix+".is_shape_tensor", "shape tensors must be INT32 or INT64")
	}
	if maxBatchSize > 0 && (len(t.Dims) == 0 || t.Dims[0] != -1) {
		return apierrors.InvalidConfig(prefix+".dims",
			"shape tensor on a batching model must declare its own leading batch-size element")
	}
	return nil
}

func validateVersionPolicy(vp *types.VersionPolicy) error {
	switch vp.Kind {
	case types.VersionPolicyLatest:
		if vp.Latest <= 0 {
			return apierrors.InvalidConfig("version_policy.latest", "must be >= 1")
		}
	case types.VersionPolicyAll:
		// no additional fields
	case types.VersionPolicySpecific:
		if len(vp.Versions) == 0 {
			return apierrors.InvalidConfig("version_policy.versions", "must list at least one version")
		}
	default:
		return apierrors.InvalidConfig("version_policy.kind", "must be one of latest, all, specific")
	}
	return nil
}

func validateScheduling(cfg *types.ModelConfig) error {
	s := &cfg.Scheduling
	if s.PriorityLevels < 0 {
		return apierrors.InvalidConfig("scheduling.priority_levels", "must be >= 0")
	}
	maxLevel := cfg.MaxPriorityLevel()
	if s.DefaultPriority < 0 || s.DefaultPriority > maxLevel {
		return apierrors.InvalidConfig("scheduling.default_priority", "must be between 0 and priority_levels")
	}
	for _, pb := range s.PreferredBatchSizes {
		if pb <= 0 {
			return apierrors.InvalidConfig("scheduling.preferred_batch_sizes", "entries must be > 0")
		}
		if cfg.MaxBatchSize > 0 && pb > cfg.MaxBatchSize {
			return apierrors.InvalidConfig("scheduling.preferred_batch_sizes", "entries must be <= max_batch_size")
		}
	}
	if s.MaxQueueDelayMicros < 0 {
		return apierrors.InvalidConfig("scheduling.max_queue_delay_us", "must be >= 0")
	}
	return nil
}
