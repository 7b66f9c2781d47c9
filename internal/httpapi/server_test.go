package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

type fakeService struct {
	live, ready bool
	loadErr     error
	unloadErr   error
	loadedName  string
}

func (f *fakeService) IsLive() bool  { return f.live }
func (f *fakeService) IsReady() bool { return f.ready }
func (f *fakeService) GetStatus() types.ServerStatus {
	return types.ServerStatus{Live: f.live, Ready: f.ready}
}
func (f *fakeService) GetModelRepositoryIndex() []types.RepositoryIndexEntry {
	return []types.RepositoryIndexEntry{{Name: "sum", Version: 1, State: types.StateReady}}
}
func (f *fakeService) LoadModel(name string) error {
	f.loadedName = name
	return f.loadErr
}
func (f *fakeService) UnloadModel(name string) error { return f.unloadErr }
func (f *fakeService) PollModelRepository() error    { return nil }

func TestHealthzReflectsLiveness(t *testing.T) {
	svc := &fakeService{live: false}
	mux := NewMux(svc, types.ControlNone, CORSOptions{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not live, got %d", rec.Code)
	}

	svc.live = true
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when live, got %d", rec.Code)
	}
}

func TestReadyzReflectsReadiness(t *testing.T) {
	svc := &fakeService{live: true, ready: false}
	mux := NewMux(svc, types.ControlNone, CORSOptions{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", rec.Code)
	}
}

func TestLoadUnloadEndpointsOnlyMountedUnderExplicitMode(t *testing.T) {
	svc := &fakeService{live: true, ready: true}
	mux := NewMux(svc, types.ControlNone, CORSOptions{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/repository/models/sum/load", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected load endpoint absent under NONE mode, got %d", rec.Code)
	}
}

func TestLoadEndpointUnderExplicitModeCallsService(t *testing.T) {
	svc := &fakeService{live: true, ready: true}
	mux := NewMux(svc, types.ControlExplicit, CORSOptions{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/repository/models/sum/load", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.loadedName != "sum" {
		t.Fatalf("expected LoadModel(\"sum\") to be called, got %q", svc.loadedName)
	}
}

func TestLoadEndpointMapsErrorCodeToHTTPStatus(t *testing.T) {
	svc := &fakeService{live: true, ready: true, loadErr: apierrors.NotFound("model not found: sum")}
	mux := NewMux(svc, types.ControlExplicit, CORSOptions{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/repository/models/sum/load", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusEndpointReturnsJSON(t *testing.T) {
	svc := &fakeService{live: true, ready: true}
	mux := NewMux(svc, types.ControlNone, CORSOptions{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
}
