// Package types holds the wire-neutral data model shared across the
// repository store, configuration validator, request normalizer, scheduler
// and server façade.
package types

// Datatype is a fixed-size primitive or variable-size byte-string tensor
// element type.
type Datatype string

const (
	TypeInvalid Datatype = ""
	TypeBool    Datatype = "BOOL"
	TypeUint8   Datatype = "UINT8"
	TypeUint16  Datatype = "UINT16"
	TypeUint32  Datatype = "UINT32"
	TypeUint64  Datatype = "UINT64"
	TypeInt8    Datatype = "INT8"
	TypeInt16   Datatype = "INT16"
	TypeInt32   Datatype = "INT32"
	TypeInt64   Datatype = "INT64"
	TypeFP16    Datatype = "FP16"
	TypeFP32    Datatype = "FP32"
	TypeFP64    Datatype = "FP64"
	// TypeBytes is the variable-size byte-string type (one length-prefixed
	// element per tensor position).
	TypeBytes Datatype = "BYTES"
)

// IsVariableSize reports whether dt has no fixed per-element byte width.
func (dt Datatype) IsVariableSize() bool { return dt == TypeBytes }

// ByteWidth returns the fixed byte width of one element of dt, or 0 if dt
// is variable-size or unrecognized.
func (dt Datatype) ByteWidth() int {
	switch dt {
	case TypeBool, TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16, TypeFP16:
		return 2
	case TypeUint32, TypeInt32, TypeFP32:
		return 4
	case TypeUint64, TypeInt64, TypeFP64:
		return 8
	default:
		return 0
	}
}

// Reshape rewrites an input's or output's declared shape. Wildcard (-1)
// positions in Shape pair, in declaration order, with the wildcard
// positions of the owning TensorConfig's Dims.
type Reshape struct {
	Shape []int64 `yaml:"shape" json:"shape"`
}

// TensorConfig describes one named input or output of a model.
type TensorConfig struct {
	Name          string   `yaml:"name" json:"name"`
	Datatype      Datatype `yaml:"data_type" json:"data_type"`
	Dims          []int64  `yaml:"dims" json:"dims"`
	Reshape       *Reshape `yaml:"reshape,omitempty" json:"reshape,omitempty"`
	IsShapeTensor bool     `yaml:"is_shape_tensor,omitempty" json:"is_shape_tensor,omitempty"`
	// Label count for classification-style outputs; 0 means "not a
	// classifier", a request may still ask for fewer via TopK.
	LabelCount int `yaml:"label_count,omitempty" json:"label_count,omitempty"`
}

// VersionPolicyKind selects how a model's loadable versions are chosen.
type VersionPolicyKind string

const (
	VersionPolicyLatest   VersionPolicyKind = "latest"
	VersionPolicyAll      VersionPolicyKind = "all"
	VersionPolicySpecific VersionPolicyKind = "specific"
)

// VersionPolicy is the per-model policy controlling which on-disk versions
// are loaded and which version a requested version of -1 resolves to.
type VersionPolicy struct {
	Kind VersionPolicyKind `yaml:"kind" json:"kind"`
	// Latest.N: number of most-recent versions to keep loaded (N >= 1).
	Latest int64 `yaml:"latest,omitempty" json:"latest,omitempty"`
	// Specific.Versions: explicit version numbers to load.
	Versions []int64 `yaml:"versions,omitempty" json:"versions,omitempty"`
}

// SchedulingConfig groups the dynamic-batching preferences of a model.
type SchedulingConfig struct {
	PreferredBatchSizes []int `yaml:"preferred_batch_sizes,omitempty" json:"preferred_batch_sizes,omitempty"`
	MaxQueueDelayMicros int64 `yaml:"max_queue_delay_us,omitempty" json:"max_queue_delay_us,omitempty"`
	PriorityLevels      int   `yaml:"priority_levels,omitempty" json:"priority_levels,omitempty"`
	DefaultPriority     int   `yaml:"default_priority,omitempty" json:"default_priority,omitempty"`
}

// NormalizationProfile selects which of the two historical request
// normalization conventions (spec.md §4.5) a model follows.
type NormalizationProfile string

const (
	// ProfileV1: batch size is a request-level integer; per-input shapes
	// do not carry the batch dimension.
	ProfileV1 NormalizationProfile = "v1"
	// ProfileV2: batch size is the common leading dimension of inputs;
	// per-input shapes carry it and are stripped during Prepare.
	ProfileV2 NormalizationProfile = "v2"
)

// ModelConfig is the immutable-once-loaded declarative configuration of one
// named model, read from <repo_root>/<name>/config.yaml.
type ModelConfig struct {
	Name          string               `yaml:"name" json:"name"`
	Platform      string               `yaml:"platform,omitempty" json:"platform,omitempty"`
	MaxBatchSize  int                  `yaml:"max_batch_size" json:"max_batch_size"`
	Inputs        []TensorConfig       `yaml:"inputs" json:"inputs"`
	Outputs       []TensorConfig       `yaml:"outputs" json:"outputs"`
	VersionPolicy VersionPolicy        `yaml:"version_policy" json:"version_policy"`
	Scheduling    SchedulingConfig     `yaml:"scheduling,omitempty" json:"scheduling,omitempty"`
	Normalization NormalizationProfile `yaml:"normalization,omitempty" json:"normalization,omitempty"`
}

// InputByName returns the input tensor config named n, if present.
func (c *ModelConfig) InputByName(n string) (TensorConfig, bool) {
	for _, in := range c.Inputs {
		if in.Name == n {
			return in, true
		}
	}
	return TensorConfig{}, false
}

// OutputByName returns the output tensor config named n, if present.
func (c *ModelConfig) OutputByName(n string) (TensorConfig, bool) {
	for _, out := range c.Outputs {
		if out.Name == n {
			return out, true
		}
	}
	return TensorConfig{}, false
}

// MaxPriorityLevel returns the highest valid priority level for this
// model, defaulting to 1 when unconfigured.
func (c *ModelConfig) MaxPriorityLevel() int {
	if c.Scheduling.PriorityLevels <= 0 {
		return 1
	}
	return c.Scheduling.PriorityLevels
}

// DefaultPriorityLevel returns the priority level assigned when a request
// specifies 0 or an out-of-range priority.
func (c *ModelConfig) DefaultPriorityLevel() int {
	if c.Scheduling.DefaultPriority <= 0 {
		return 1
	}
	return c.Scheduling.DefaultPriority
}

// EffectiveProfile returns the configured normalization profile, defaulting
// to ProfileV2 (spec.md §4.5 permits shipping only V2).
func (c *ModelConfig) EffectiveProfile() NormalizationProfile {
	if c.Normalization == ProfileV1 {
		return ProfileV1
	}
	return ProfileV2
}
