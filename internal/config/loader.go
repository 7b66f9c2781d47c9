// Package config loads the Server's declarative configuration (spec.md §6
// "Configuration options recognized by the Server") from YAML, JSON, or
// TOML, switched on file extension exactly as the teacher's
// internal/config/loader.go dispatches.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds every option spec.md §6 lists as recognized by the
// Server, plus the ambient admin-surface knobs (listen address, CORS,
// log level) carried regardless of the wire-protocol non-goal (spec.md §1,
// §9 "ambient stack").
type ServerConfig struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	ModelRepositoryPaths []string `json:"model_repository_paths" yaml:"model_repository_paths" toml:"model_repository_paths"`
	ModelControlMode     string   `json:"model_control_mode" yaml:"model_control_mode" toml:"model_control_mode"`
	StrictModelConfig    bool     `json:"strict_model_config" yaml:"strict_model_config" toml:"strict_model_config"`
	StrictReadiness      bool     `json:"strict_readiness" yaml:"strict_readiness" toml:"strict_readiness"`
	ExitTimeoutSecs      int      `json:"exit_timeout_secs" yaml:"exit_timeout_secs" toml:"exit_timeout_secs"`
	StartupModels        []string `json:"startup_models" yaml:"startup_models" toml:"startup_models"`

	PinnedMemoryPoolSize   uint64            `json:"pinned_memory_pool_size" yaml:"pinned_memory_pool_size" toml:"pinned_memory_pool_size"`
	CUDAMemoryPoolSize     map[string]uint64 `json:"cuda_memory_pool_size" yaml:"cuda_memory_pool_size" toml:"cuda_memory_pool_size"`
	MinSupportedComputeCap float64           `json:"min_supported_compute_capability" yaml:"min_supported_compute_capability" toml:"min_supported_compute_capability"`

	PollIntervalSecs int `json:"poll_interval_secs" yaml:"poll_interval_secs" toml:"poll_interval_secs"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`

	SdNotify bool `json:"sd_notify" yaml:"sd_notify" toml:"sd_notify"`
}

// Load reads a ServerConfig from path, dispatching on its extension.
// Supports: .yaml/.yml, .json, .toml.
func Load(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills in zero-value fields with the Server's documented
// defaults (spec.md §6): NONE control mode, non-strict config/readiness,
// no exit timeout.
func applyDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ModelControlMode == "" {
		cfg.ModelControlMode = "NONE"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
