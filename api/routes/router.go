package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kgbytes/canteen-backend/api/controllers"
	"github.com/kgbytes/canteen-backend/api/middleware"
	"github.com/kgbytes/canteen-backend/internal/delivery"
	"github.com/kgbytes/canteen-backend/internal/menu"
	"github.com/kgbytes/canteen-backend/internal/orders"
	"github.com/kgbytes/canteen-backend/internal/staff"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/internal/wallet"
	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db"
	"github.com/kgbytes/canteen-backend/pkg/logger"
	"github.com/kgbytes/canteen-backend/pkg/redis"
)

// Services bundles everything the router mounts.
type Services struct {
	Menu      menu.Service
	Orders    orders.Service
	Wallet    wallet.Service
	Tokens    tokens.Service
	Delivery  delivery.Service
	Staff     staff.Service
	Dashboard staff.DashboardService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	registry *prometheus.Registry,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/menu", func(r chi.Router) {
			r.Get("/counters", controllers.ListCounters(svcs.Menu, logg))
			r.Get("/counters/{counterId}", controllers.CounterMenu(svcs.Menu, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.PlaceOrder(svcs.Orders, logg))
			r.Get("/", controllers.ListOrders(svcs.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(svcs.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(svcs.Orders, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(svcs.Wallet, logg))
			r.Get("/transactions", controllers.WalletTransactions(svcs.Wallet, logg))
			r.Post("/topup", controllers.WalletTopUp(svcs.Wallet, logg))
		})

		r.Route("/fulfillment", func(r chi.Router) {
			r.Get("/tokens/{code}", controllers.FetchToken(svcs.Tokens, logg))
			r.Get("/tokens/{code}/status", controllers.TokenStatus(svcs.Tokens, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStaff(logg))
				r.Post("/tokens", controllers.CreateToken(svcs.Tokens, logg))
				r.Post("/tokens/{code}/deliver", controllers.DeliverToken(svcs.Delivery, svcs.Staff, logg))
				r.Post("/tokens/{code}/consume", controllers.ConsumeToken(svcs.Delivery, svcs.Staff, logg))
				r.Get("/dashboard", controllers.StaffDashboard(svcs.Dashboard, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Post("/counters", controllers.CreateCounter(svcs.Menu, logg))
			r.Post("/items", controllers.CreateItem(svcs.Menu, logg))
			r.Patch("/items/{itemId}", controllers.UpdateItem(svcs.Menu, logg))
			r.Delete("/items/{itemId}", controllers.DeleteItem(svcs.Menu, logg))
		})
	})

	return r
}
