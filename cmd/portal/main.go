package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/vendorhub/vendor-portal/internal/app"
	"github.com/vendorhub/vendor-portal/internal/auth"
	"github.com/vendorhub/vendor-portal/internal/observability"
	"github.com/vendorhub/vendor-portal/internal/platform/kv"
	"github.com/vendorhub/vendor-portal/internal/portal"
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
	"github.com/vendorhub/vendor-portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("portal exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	redisClient, err := kv.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, closeStore, err := app.OpenStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("vendor registry store", slog.String("driver", cfg.StoreDriver))

	registry := vendors.NewRegistry(store,
		vendors.WithLocker(kv.NewRedisLocker(redisClient, cfg.RegistryLockTTL)),
		vendors.WithLogger(logger),
	)
	documents := vendors.NewDocuments(store)

	credentials, err := auth.NewStaticCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return err
	}
	gate := auth.NewService(credentials, logger)

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, metrics.Jobs())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	controller := workflow.NewController(workflow.Dependencies{
		Validator: vendors.NewValidator(),
		Records:   registry,
		Documents: documents,
		Payments:  workflow.SimulatedProcessor{Delay: cfg.PaymentDelay},
		Claims:    shared.NewIdempotencyStore(redisClient, shared.DefaultIdempotencyTTL),
		Gate:      gate,
		Notifier:  jobClient,
		Logger:    logger,
	})

	sessionManager := shared.NewSessionManager(redisClient, "vendor_portal_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		PortalHandler:  portal.NewHandler(logger, controller, registry, documents, csrfManager, metrics),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
