package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tillpoint/terminald/api/controllers"
	"github.com/tillpoint/terminald/api/middleware"
	"github.com/tillpoint/terminald/internal/catalog"
	"github.com/tillpoint/terminald/internal/checkout"
	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/internal/syncengine"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/logger"
)

// RouterParams wire the local admin surface the register UI talks to.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Checkout   *checkout.Service
	Catalog    *catalog.Service
	Queue      *orders.Repository
	SyncEngine *syncengine.Engine
	// Metrics serves GET /metrics; nil disables the endpoint.
	Metrics prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(params.Checkout, logg))

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/products", controllers.CatalogProducts(params.Catalog, logg))
			r.Get("/products/{productID}/variants", controllers.CatalogVariants(params.Catalog, logg))
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", controllers.QueueList(params.Queue, cfg.Terminal.TenantID, logg))
			r.Post("/{tempID}/requeue", controllers.QueueRequeue(params.Queue, params.DB, logg))
			r.Delete("/{tempID}", controllers.QueueDelete(params.Queue, params.DB, logg))
		})

		r.Post("/sync/kick", controllers.SyncKick(params.SyncEngine, logg))
	})

	return r
}
