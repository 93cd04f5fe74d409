package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arcollect/arcollect/internal/collection"
	"github.com/arcollect/arcollect/internal/ledger"
	"github.com/arcollect/arcollect/internal/observability"
	"github.com/arcollect/arcollect/internal/promise"
	"github.com/arcollect/arcollect/internal/scoring"
	"github.com/arcollect/arcollect/internal/workflow"
	"github.com/arcollect/arcollect/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	LedgerHandler     *ledger.Handler
	ScoringHandler    *scoring.Handler
	WorkflowHandler   *workflow.Handler
	PromiseHandler    *promise.Handler
	CollectionHandler *collection.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
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

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.ScoringHandler != nil {
		r.Route("/scores", params.ScoringHandler.MountRoutes)
	}
	if params.WorkflowHandler != nil {
		r.Route("/workflows", params.WorkflowHandler.MountRoutes)
	}
	if params.PromiseHandler != nil {
		r.Route("/promises", params.PromiseHandler.MountRoutes)
	}
	if params.CollectionHandler != nil {
		r.Route("/collection", params.CollectionHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
