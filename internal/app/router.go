package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/replenish/internal/crossdock"
	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/observability"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/replenishment"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	InventoryHandler     *inventory.Handler
	ProcurementHandler   *procurement.Handler
	SalesHandler         *sales.Handler
	CrossdockHandler     *crossdock.Handler
	ReplenishmentHandler *replenishment.Handler
	JobHandler           *jobs.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
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

	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	r.Route("/procurement", func(r chi.Router) {
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(r)
		}
		if params.CrossdockHandler != nil {
			params.CrossdockHandler.MountProcurementRoutes(r)
		}
	})
	r.Route("/sales", func(r chi.Router) {
		if params.SalesHandler != nil {
			params.SalesHandler.MountRoutes(r)
		}
		if params.CrossdockHandler != nil {
			params.CrossdockHandler.MountSalesRoutes(r)
		}
	})
	if params.ReplenishmentHandler != nil {
		r.Route("/replenishment", params.ReplenishmentHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
