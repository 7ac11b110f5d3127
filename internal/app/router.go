package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/beacon-erp/beacon-payments/internal/observability"
	orders "github.com/beacon-erp/beacon-payments/internal/sales/orders"
	"github.com/beacon-erp/beacon-payments/internal/verify"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	VoucherHandler *vouchers.Handler
	OrderHandler   *orders.Handler
	VerifyHandler  *verify.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Beacon defaults. The /verify
// surface is public; everything under /api expects the gateway actor header.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/vouchers", params.VoucherHandler.MountRoutes)
		r.Route("/sales/orders", params.OrderHandler.MountRoutes)
	})

	r.Route("/verify", params.VerifyHandler.MountRoutes)

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
