package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/observability"
	"github.com/prenda-erp/prenda-erp/internal/rbac"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
	"github.com/prenda-erp/prenda-erp/jobs"
)

// PermissionReconcileView guards the reconciliation report endpoints.
const PermissionReconcileView = "caja.cuadre.ver"

// Guard wraps routes with a permission requirement.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Guard              Guard
	LedgerHandler      *ledger.Handler
	CreditHandler      *credit.Handler
	InterestHandler    *interest.Handler
	ReconcileHandler   *reconcile.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
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

	r.Route("/api", func(r chi.Router) {
		r.Use(Identity)
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.CreditHandler != nil {
			params.CreditHandler.MountRoutes(r)
		}
		if params.InterestHandler != nil {
			params.InterestHandler.MountRoutes(r)
		}
		if params.ReconcileHandler != nil {
			r.Group(func(r chi.Router) {
				if params.Guard != nil {
					r.Use(params.Guard.RequireAny(PermissionReconcileView))
				}
				params.ReconcileHandler.MountRoutes(r)
			})
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
