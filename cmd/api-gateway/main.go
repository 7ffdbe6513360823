package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/demande-api/api/swagger"
	"github.com/noah-isme/demande-api/internal/realtime"
	"github.com/noah-isme/demande-api/internal/repository"
	"github.com/noah-isme/demande-api/internal/service"
	"github.com/noah-isme/demande-api/pkg/cache"
	"github.com/noah-isme/demande-api/pkg/config"
	"github.com/noah-isme/demande-api/pkg/database"
	"github.com/noah-isme/demande-api/pkg/export"
	"github.com/noah-isme/demande-api/pkg/jobs"
	"github.com/noah-isme/demande-api/pkg/logger"
	"github.com/noah-isme/demande-api/pkg/storage"
)

// @title Demande API
// @version 1.0.0
// @description Purchase request approval workflow
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB, logr); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	metrics := service.NewMetricsService()
	checks := []readinessCheck{{name: "postgres", ping: db.PingContext}}

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisRepo := repository.NewCacheRepository(client, logr)
		defer redisRepo.Close()
		cacheRepo = redisRepo
		checks = append(checks, readinessCheck{name: "redis", ping: redisRepo.Ping})
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.CacheEnabled)

	validate := validator.New()
	service.RegisterUserValidations(validate)

	userRepo := repository.NewUserRepository(db)
	demandeRepo := repository.NewDemandeRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	stockRepo := repository.NewStockRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})

	demandeOpts := []service.DemandeServiceOption{
		service.WithDemandeCache(cacheSvc),
		service.WithDemandeMetrics(metrics),
	}

	var hub *realtime.Hub
	if cfg.Notifications.RealtimeEnabled {
		queue := jobs.NewQueue("notifications", jobs.QueueConfig{
			Workers:    cfg.Notifications.QueueWorkers,
			MaxRetries: cfg.Notifications.QueueRetries,
			Logger:     logr,
		})
		hub = realtime.NewHub(authSvc, logr, cfg.CORS.AllowedOrigins)
		service.RegisterStatusChangedHandler(queue, hub, logr)
		queue.Start(ctx)
		defer queue.Stop()
		go hub.Run(ctx)
		metrics.WatchRealtimeClients(hub.ClientCount)
		metrics.WatchQueue(queue.Name(), queue.Stats)

		demandeOpts = append(demandeOpts, service.WithDemandeEvents(service.NewDemandeEventPublisher(queue, logr)))
	}

	store, err := newObjectStore(ctx, cfg, logr)
	if err != nil {
		return err
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	demandeSvc := service.NewDemandeService(demandeRepo, userRepo, validate, logr, demandeOpts...)

	services := routerServices{
		auth:      authSvc,
		demandes:  demandeSvc,
		exports:   service.NewExportService(demandeSvc, logr, nil, export.NewPDFExporter()),
		notify:    service.NewNotificationService(demandeRepo, logr),
		catalog:   service.NewCatalogService(catalogRepo, userRepo, cacheSvc, validate, logr, cfg.Catalog.LowStockThreshold),
		stock:     service.NewStockService(stockRepo, userRepo, cacheSvc, validate, logr),
		users:     service.NewUserService(userRepo, validate, logr),
		metrics:   metrics,
		auditRepo: userRepo,
		hub:       hub,
		readiness: checks,
		attachments: service.NewAttachmentService(demandeRepo, store, signer, userRepo, logr, service.AttachmentServiceConfig{
			MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
			APIPrefix:    cfg.APIPrefix,
		}),
		dashboard: service.NewDashboardService(service.DashboardServiceParams{
			Demandes: demandeRepo,
			Catalog:  catalogRepo,
			Cache:    cacheSvc,
			Metrics:  metrics,
			Logger:   logr,
			Config: service.DashboardServiceConfig{
				CacheTTL:          cfg.Dashboard.CacheTTL,
				LowStockThreshold: cfg.Catalog.LowStockThreshold,
			},
		}),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(cfg, logr, services)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "realtime", hub != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Attachments.Driver {
	case config.StorageDriverS3:
		s3Store, err := storage.NewS3Storage(ctx, cfg.Attachments.S3, logr)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return s3Store, nil
	default:
		local, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return local, nil
	}
}
