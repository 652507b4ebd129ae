package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tillpoint/terminald/api/routes"
	"github.com/tillpoint/terminald/internal/backend"
	"github.com/tillpoint/terminald/internal/catalog"
	"github.com/tillpoint/terminald/internal/checkout"
	"github.com/tillpoint/terminald/internal/identity"
	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/internal/syncengine"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/logger"
	"github.com/tillpoint/terminald/pkg/metrics"
	"github.com/tillpoint/terminald/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "terminald"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "terminald",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.Store, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing local store", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)
	heartbeatMetrics := metrics.NewHeartbeatMetrics(registry)

	backendClient, err := backend.NewClient(cfg.Backend, cfg.Terminal.TenantID, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build backend client", err)
		os.Exit(1)
	}

	identityService, err := identity.NewService(identity.ServiceParams{
		Terminal:      cfg.Terminal,
		Heartbeat:     cfg.Heartbeat,
		RefreshMargin: cfg.Backend.TokenRefreshMargin,
		Backend:       backendClient,
		Repo:          identity.NewRepository(dbClient.DB()),
		DB:            dbClient,
		Logger:        logg,
		Metrics:       heartbeatMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build identity service", err)
		os.Exit(1)
	}
	backendClient.SetTokenSource(identityService)

	queueRepo := orders.NewRepository(dbClient.DB())

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		TenantID: cfg.Terminal.TenantID,
		Backend:  backendClient,
		Repo:     catalog.NewRepository(dbClient.DB()),
		DB:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build catalog service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Terminal: cfg.Terminal,
		Backend:  backendClient,
		Queue:    queueRepo,
		DB:       dbClient,
		Logger:   logg,
		TerminalID: func(ctx context.Context) (string, error) {
			cred, err := identityService.Ensure(ctx)
			if err != nil {
				return "", err
			}
			return cred.TerminalID, nil
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build checkout service", err)
		os.Exit(1)
	}

	engine, err := syncengine.NewEngine(syncengine.EngineParams{
		TenantID: cfg.Terminal.TenantID,
		Sync:     cfg.Sync,
		Backend:  backendClient,
		Repo:     queueRepo,
		DB:       dbClient,
		Logger:   logg,
		Metrics:  syncMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build sync engine", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": ":" + cfg.AdminAPI.Port,
	})

	// Registration is best-effort at boot: an offline register still
	// serves its cache and queues orders; identity retries on demand.
	if cred, err := identityService.Ensure(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "terminal registration deferred")
	} else {
		ctx = logg.WithTerminalID(ctx, cred.TerminalID)
	}

	stopHeartbeat, err := identityService.StartHeartbeat(ctx)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "heartbeat not started, terminal unregistered")
	} else {
		defer stopHeartbeat()
	}

	// Drain whatever the previous run left queued as soon as the loop
	// starts instead of waiting out the first poll interval.
	engine.Kick()
	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	server := &http.Server{
		Addr: ":" + cfg.AdminAPI.Port,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			DB:         dbClient,
			Checkout:   checkoutService,
			Catalog:    catalogService,
			Queue:      queueRepo,
			SyncEngine: engine,
			Metrics:    registry,
		}),
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe() }()
	logg.Info(ctx, "terminald started")

	engineStopped := false
	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "admin api stopped unexpectedly", err)
		}
		stop()
	case err := <-engineDone:
		engineStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync engine stopped unexpectedly", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "admin api shutdown failed", err)
	}
	if !engineStopped {
		if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync engine exited with error", err)
		}
	}

	logg.Info(ctx, "terminald shut down gracefully")
}
