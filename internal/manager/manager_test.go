package manager

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"modeld/internal/apierrors"
	"modeld/internal/backend/echo"
	"modeld/internal/clock"
	"modeld/pkg/types"
)

const sumConfigYAML = `
name: sum
max_batch_size: 0
inputs:
  - name: INPUT0
    data_type: INT32
    dims: [1]
  - name: INPUT1
    data_type: INT32
    dims: [1]
outputs:
  - name: OUTPUT0
    data_type: INT32
    dims: [1]
  - name: OUTPUT1
    data_type: INT32
    dims: [1]
version_policy:
  kind: latest
  latest: 1
`

// newRepo lays out <root>/sum/config.yaml plus the given version
// directories, each containing one placeholder artifact file.
func newRepo(t *testing.T, versions ...int64) string {
	t.Helper()
	root := t.TempDir()
	modelDir := filepath.Join(root, "sum")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte(sumConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for _, v := range versions {
		vdir := filepath.Join(modelDir, strconv.FormatInt(v, 10))
		if err := os.MkdirAll(vdir, 0o755); err != nil {
			t.Fatalf("mkdir version: %v", err)
		}
		if err := os.WriteFile(filepath.Join(vdir, "model.bin"), []byte("artifact"), 0o644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
	}
	return root
}

func newTestManager(t *testing.T, root string) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	m, err := New(Config{
		RepositoryRoots: []string{root},
		ControlMode:     types.ControlExplicit,
		Factory:         echo.Factory{},
		Clock:           clock.System{},
		Logger:          zerolog.Nop(),
		Publisher:       pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, pub
}

func TestLoadModelResolvesLatestVersion(t *testing.T) {
	root := newRepo(t, 1, 2, 3)
	m, _ := newTestManager(t, root)

	if err := m.LoadModel("sum"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if !m.ModelIsReady("sum", 3) {
		t.Fatal("expected version 3 to be READY (latest(1) policy)")
	}
	if m.ModelIsReady("sum", 1) || m.ModelIsReady("sum", 2) {
		t.Fatal("latest(1) policy should only load the newest version")
	}

	ref, err := m.GetInferenceBackend("sum", -1)
	if err != nil {
		t.Fatalf("GetInferenceBackend: %v", err)
	}
	defer ref.Release()
	if ref.Handle.Version() != 3 {
		t.Fatalf("expected version 3, got %d", ref.Handle.Version())
	}
}

func TestUnloadThenReloadResolvesSameVersion(t *testing.T) {
	root := newRepo(t, 1, 2, 3)
	m, _ := newTestManager(t, root)

	if err := m.LoadModel("sum"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if err := m.UnloadModel("sum"); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if m.ModelIsReady("sum", 3) {
		t.Fatal("expected sum to be unloaded")
	}
	if err := m.LoadModel("sum"); err != nil {
		t.Fatalf("reload LoadModel: %v", err)
	}

	ref, err := m.GetInferenceBackend("sum", -1)
	if err != nil {
		t.Fatalf("GetInferenceBackend: %v", err)
	}
	defer ref.Release()
	if ref.Handle.Version() != 3 {
		t.Fatalf("expected version 3 again after reload, got %d", ref.Handle.Version())
	}
}

func TestGetInferenceBackendUnavailableBeforeLoad(t *testing.T) {
	root := newRepo(t, 1)
	m, _ := newTestManager(t, root)

	if _, err := m.GetInferenceBackend("sum", -1); err == nil {
		t.Fatal("expected an error resolving an unloaded model")
	}
}

func TestLoadModelMissingConfigIsNotFound(t *testing.T) {
	root := t.TempDir()
	m, _ := newTestManager(t, root)

	err := m.LoadModel("nonexistent")
	if err == nil {
		t.Fatal("expected an error loading a model with no repository entry")
	}
	if !apierrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPollModelRepositoryLoadsUnderPollMode(t *testing.T) {
	root := newRepo(t, 1)
	pub := NewMemoryPublisher()
	m, err := New(Config{
		RepositoryRoots: []string{root},
		ControlMode:     types.ControlPoll,
		Factory:         echo.Factory{},
		Clock:           clock.System{},
		Logger:          zerolog.Nop(),
		Publisher:       pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.PollModelRepository(); err != nil {
		t.Fatalf("PollModelRepository: %v", err)
	}
	if !m.ModelIsReady("sum", 1) {
		t.Fatal("expected poll to load sum/1")
	}

	var sawLoadDone bool
	for _, e := range pub.Events() {
		if e.Name == "load_done" && e.Model == "sum" {
			sawLoadDone = true
		}
	}
	if !sawLoadDone {
		t.Fatal("expected a load_done event for sum")
	}
}

func TestPollModelRepositoryUnloadsRemovedModel(t *testing.T) {
	root := newRepo(t, 1)
	m, _ := newTestManager(t, root)

	if err := m.PollModelRepository(); err != nil {
		t.Fatalf("PollModelRepository: %v", err)
	}
	if !m.ModelIsReady("sum", 1) {
		t.Fatal("expected sum/1 to be loaded")
	}

	if err := os.RemoveAll(filepath.Join(root, "sum")); err != nil {
		t.Fatalf("remove model dir: %v", err)
	}
	if err := m.PollModelRepository(); err != nil {
		t.Fatalf("second PollModelRepository: %v", err)
	}
	if m.ModelIsReady("sum", 1) {
		t.Fatal("expected sum/1 to be unloaded once its directory disappears")
	}
}

func TestGetModelRepositoryIndexReportsKnownSlots(t *testing.T) {
	root := newRepo(t, 1, 2)
	m, _ := newTestManager(t, root)
	if err := m.LoadModel("sum"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	idx := m.GetModelRepositoryIndex()
	foundReady := false
	for _, e := range idx {
		if e.Name == "sum" && e.State == types.StateReady {
			foundReady = true
		}
	}
	if !foundReady {
		t.Fatal("expected at least one READY entry for sum in the repository index")
	}
}
