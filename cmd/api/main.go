package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/dispatch-engine/internal/api/http"
	"github.com/spec-kit/dispatch-engine/internal/api/http/handlers"
	"github.com/spec-kit/dispatch-engine/internal/auth"
	"github.com/spec-kit/dispatch-engine/internal/config"
	"github.com/spec-kit/dispatch-engine/internal/eligibility"
	"github.com/spec-kit/dispatch-engine/internal/events"
	"github.com/spec-kit/dispatch-engine/internal/observability"
	"github.com/spec-kit/dispatch-engine/internal/persistence"
	"github.com/spec-kit/dispatch-engine/internal/repository"
	"github.com/spec-kit/dispatch-engine/internal/service"
	"github.com/spec-kit/dispatch-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	requestRepo := repository.NewRequestRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	participantRepo := repository.NewParticipantRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	var eligibilityProvider eligibility.Provider = eligibility.NewHTTPProvider(
		cfg.Profile.BaseURL,
		time.Duration(cfg.Profile.TimeoutSeconds)*time.Second,
	)
	if cfg.Profile.EligibilityCaching {
		eligibilityProvider = eligibility.NewCachingProvider(
			eligibilityProvider,
			redis.Client,
			time.Duration(cfg.Profile.CacheTTLSeconds)*time.Second,
			logger,
		)
	}

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	routerService := service.NewRouterService(requestRepo, eligibilityProvider, logger)
	requestService := service.NewRequestService(requestRepo, auditRepo, dispatcher, logger, nil)
	claimService := service.NewClaimService(service.ClaimDependencies{
		RequestRepo:     requestRepo,
		SessionRepo:     sessionRepo,
		ParticipantRepo: participantRepo,
		AuditRepo:       auditRepo,
		Router:          routerService,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
	})
	sessionService := service.NewSessionService(service.SessionDependencies{
		SessionRepo:     sessionRepo,
		ParticipantRepo: participantRepo,
		AuditRepo:       auditRepo,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	sweeperService := service.NewSweeperService(service.SweeperDependencies{
		RequestRepo: requestRepo,
		SessionRepo: sessionRepo,
		AuditRepo:   auditRepo,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Config:      cfg.Sweeper,
	})
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	sweeperWorker := worker.NewSweeperWorker(sweeperService, cfg.Sweeper.Interval(), logger)
	go sweeperWorker.Run(ctx)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics)
	requestsHandler := handlers.NewRequestsHandler(requestService, routerService, claimService, sessionService)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Requests:       requestsHandler,
		Sessions:       sessionsHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	sweeperWorker.Wait()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
