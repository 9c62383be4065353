package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-stock/internal/observability"
)

// Mounter is implemented by domain handlers.
type Mounter interface {
	MountRoutes(r chi.Router)
}

// Mount binds a handler under a path prefix.
type Mount struct {
	Prefix  string
	Handler Mounter
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Mounts  []Mount
	// Extra routes outside the API prefixes, e.g. the job inspector.
	Extra map[string]http.Handler
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	for _, m := range params.Mounts {
		if m.Handler == nil {
			continue
		}
		handler := m.Handler
		if m.Prefix == "" || m.Prefix == "/" {
			r.Group(handler.MountRoutes)
			continue
		}
		r.Route(m.Prefix, handler.MountRoutes)
	}

	for path, h := range params.Extra {
		r.Mount(path, h)
	}

	return r
}
