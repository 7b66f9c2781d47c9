// Package httpapi exposes the ambient admin/observability HTTP surface
// spec.md §9's "carry ambient stack regardless of non-goals" rule calls
// for: liveness/readiness probes, a status endpoint, Prometheus metrics,
// and, under EXPLICIT control mode, load/unload admin endpoints. This is
// explicitly NOT the generic inference wire protocol spec.md §1 excludes
// as a non-goal.
//
// Grounded on the teacher's internal/httpapi/server.go (chi router +
// middleware stack + CORS + metrics + swagger mounting conventions).
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modeld/pkg/types"
)

// Service is the slice of the Server façade this admin surface consumes.
type Service interface {
	IsLive() bool
	IsReady() bool
	GetStatus() types.ServerStatus
	GetModelRepositoryIndex() []types.RepositoryIndexEntry
	LoadModel(name string) error
	UnloadModel(name string) error
	PollModelRepository() error
}

// CORSOptions configures the admin surface's CORS middleware, mirroring
// the teacher's SetCORSOptions knobs.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// NewMux builds the admin/observability router over svc. controlMode gates
// whether the explicit load/unload endpoints are mounted (spec.md §4.4
// "EXPLICIT (load/unload only by RPC)").
func NewMux(svc Service, controlMode types.ControlMode, corsOpts CORSOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsOpts.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOpts.AllowedOrigins,
			AllowedMethods: corsOpts.AllowedMethods,
			AllowedHeaders: corsOpts.AllowedHeaders,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !svc.IsLive() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not live"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !svc.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.GetStatus())
	})

	r.Get("/v2/repository/index", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.GetModelRepositoryIndex())
	})

	if controlMode == types.ControlExplicit {
		r.Post("/v2/repository/models/{name}/load", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			if err := svc.LoadModel(name); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/v2/repository/models/{name}/unload", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			if err := svc.UnloadModel(name); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	if controlMode == types.ControlPoll {
		r.Post("/v2/repository/index/poll", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.PollModelRepository(); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}
