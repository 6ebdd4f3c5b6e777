package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kgbytes/canteen-backend/api/routes"
	"github.com/kgbytes/canteen-backend/internal/delivery"
	"github.com/kgbytes/canteen-backend/internal/inventory"
	"github.com/kgbytes/canteen-backend/internal/menu"
	"github.com/kgbytes/canteen-backend/internal/orders"
	"github.com/kgbytes/canteen-backend/internal/staff"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/internal/wallet"
	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db"
	"github.com/kgbytes/canteen-backend/pkg/logger"
	"github.com/kgbytes/canteen-backend/pkg/metrics"
	"github.com/kgbytes/canteen-backend/pkg/migrate"
	"github.com/kgbytes/canteen-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	fulfillmentStats := metrics.NewFulfillmentMetrics(registry)

	svcs, err := buildServices(cfg, logg, dbClient, redisClient, fulfillmentStats)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, svcs),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stats *metrics.FulfillmentMetrics,
) (routes.Services, error) {
	gdb := dbClient.DB()

	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), dbClient, logg)
	if err != nil {
		return routes.Services{}, err
	}
	menuSvc, err := menu.NewService(gdb, redisClient, cfg.Redis.MenuCacheTTL, logg)
	if err != nil {
		return routes.Services{}, err
	}
	invSvc, err := inventory.NewService(gdb, menuSvc, logg)
	if err != nil {
		return routes.Services{}, err
	}
	tokenSvc, err := tokens.NewService(tokens.NewRepository(gdb), cfg.Fulfillment, logg, stats)
	if err != nil {
		return routes.Services{}, err
	}
	ordersSvc, err := orders.NewService(orders.NewRepository(gdb), gdb, dbClient, invSvc, walletSvc, tokenSvc, logg)
	if err != nil {
		return routes.Services{}, err
	}
	deliverySvc, err := delivery.NewService(tokenSvc, invSvc, ordersSvc, nil, cfg.Fulfillment, logg, stats)
	if err != nil {
		return routes.Services{}, err
	}
	staffSvc, err := staff.NewService(staff.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}
	dashboardSvc, err := staff.NewDashboardService(gdb)
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Menu:      menuSvc,
		Orders:    ordersSvc,
		Wallet:    walletSvc,
		Tokens:    tokenSvc,
		Delivery:  deliverySvc,
		Staff:     staffSvc,
		Dashboard: dashboardSvc,
	}, nil
}
