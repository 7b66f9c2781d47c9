// Package store implements the Model Repository Store (spec.md §4.1): it
// maps each directory under one or more repository roots to a logical
// (name, versions[]), fingerprinting each version subtree so the Manager
// can tell an idempotent re-read from a genuine change.
//
// Grounded on the teacher's internal/registry/loader.go (home-dir
// expansion, os.ReadDir walk) and internal/common/fsutil, generalized from
// a flat *.gguf directory scan to the name/version repository tree.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"modeld/internal/common/fsutil"
	"modeld/internal/modelconfig"
	"modeld/pkg/types"
)

// ModificationKey is a content fingerprint for one version subtree, stable
// under idempotent re-reads: the maximum modification time observed plus
// the subtree's total byte size (spec.md §4.1).
type ModificationKey struct {
	MaxModUnixNano int64
	TotalBytes     int64
}

// ModelVersions is one model's on-disk versions, keyed by version number.
type ModelVersions struct {
	Name     string
	Versions map[int64]ModificationKey
}

// Store scans one or more repository roots for model directories.
type Store struct {
	roots  []string
	logger zerolog.Logger
}

// New returns a Store over the given repository roots, expanding any
// leading '~' the way the teacher's registry loader does.
func New(roots []string, logger zerolog.Logger) (*Store, error) {
	expanded := make([]string, 0, len(roots))
	for _, r := range roots {
		e, err := fsutil.ExpandHome(r)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(e)
		if err != nil {
			return nil, fmt.Errorf("abs path %q: %w", r, err)
		}
		expanded = append(expanded, abs)
	}
	return &Store{roots: expanded, logger: logger.With().Str("component", "store").Logger()}, nil
}

// Scan enumerates every model directory under the configured roots and
// fingerprints each version subdirectory. Sibling entries whose name does
// not parse as a positive integer are ignored with a warning (spec.md
// §4.1).
func (s *Store) Scan() (map[string]*ModelVersions, error) {
	out := make(map[string]*ModelVersions)
	for _, root := range s.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read repository root %q: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			modelDir := filepath.Join(root, name)
			mv, err := s.scanModel(name, modelDir)
			if err != nil {
				return nil, err
			}
			if existing, ok := out[name]; ok {
				for v, k := range mv.Versions {
					existing.Versions[v] = k
				}
			} else {
				out[name] = mv
			}
		}
	}
	return out, nil
}

func (s *Store) scanModel(name, modelDir string) (*ModelVersions, error) {
	mv := &ModelVersions{Name: name, Versions: make(map[int64]ModificationKey)}
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("read model dir %q: %w", modelDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		version, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || version <= 0 {
			s.logger.Warn().Str("model", name).Str("entry", e.Name()).
				Msg("ignoring version directory with non-positive-integer name")
			continue
		}
		key, err := fingerprint(filepath.Join(modelDir, e.Name()))
		if err != nil {
			return nil, err
		}
		mv.Versions[version] = key
	}
	return mv, nil
}

// fingerprint computes ModificationKey for a version subtree via a single
// recursive walk, matching the original's GetModifiedTime plus recursive
// size accumulation (spec.md §4.1).
func fingerprint(dir string) (ModificationKey, error) {
	var key ModificationKey
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if mt := info.ModTime().UnixNano(); mt > key.MaxModUnixNano {
			key.MaxModUnixNano = mt
		}
		if !d.IsDir() {
			key.TotalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return ModificationKey{}, fmt.Errorf("fingerprint %q: %w", dir, err)
	}
	return key, nil
}

// ReadConfig loads and validates the declarative configuration for the
// named model by searching the configured roots in order.
func (s *Store) ReadConfig(name string) (*types.ModelConfig, error) {
	var lastErr error
	for _, root := range s.roots {
		path := filepath.Join(root, name, modelconfig.ConfigFileName)
		if !fsutil.PathExists(path) {
			lastErr = fmt.Errorf("%s: not found", path)
			continue
		}
		return modelconfig.Load(path)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("model %q not found under any repository root", name)
	}
	return nil, fmt.Errorf("read config for %q: %w", name, lastErr)
}

// VersionDir returns the absolute path of a model version's artifact
// directory by searching the configured roots in order.
func (s *Store) VersionDir(name string, version int64) (string, error) {
	for _, root := range s.roots {
		dir := filepath.Join(root, name, strconv.FormatInt(version, 10))
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("version %d of model %q not found under any repository root", version, name)
}
