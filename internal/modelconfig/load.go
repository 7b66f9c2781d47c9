package modelconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"modeld/pkg/types"
)

// ConfigFileName is the declarative per-model configuration file expected
// directly under <repo_root>/<model_name>/ (spec.md §6 persisted state
// layout; YAML is substituted for the original's config.pbtxt — see
// DESIGN.md OQ-1).
const ConfigFileName = "config.yaml"

// Load reads and validates the configuration at path. A read or YAML parse
// failure is returned as a wrapped plain error; a validation failure is an
// InvalidConfig error (via Validate) naming the first offending field.
func Load(path string) (*types.ModelConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg types.ModelConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
