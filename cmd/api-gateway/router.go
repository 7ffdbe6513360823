package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/handler"
	"github.com/noah-isme/demande-api/internal/middleware"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/realtime"
	"github.com/noah-isme/demande-api/internal/repository"
	"github.com/noah-isme/demande-api/internal/service"
	"github.com/noah-isme/demande-api/internal/workflow"
	"github.com/noah-isme/demande-api/pkg/config"
	"github.com/noah-isme/demande-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/demande-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/demande-api/pkg/middleware/requestid"
)

type routerServices struct {
	auth        *service.AuthService
	demandes    *service.DemandeService
	exports     *service.ExportService
	attachments *service.AttachmentService
	notify      *service.NotificationService
	dashboard   *service.DashboardService
	catalog     *service.CatalogService
	stock       *service.StockService
	users       *service.UserService
	metrics     *service.MetricsService
	auditRepo   *repository.UserRepository
	hub         *realtime.Hub
	readiness   []readinessCheck
}

type readinessCheck struct {
	name string
	ping func(ctx context.Context) error
}

func readyHandler(checks []readinessCheck, logr *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		ready := true
		for _, check := range checks {
			if err := check.ping(ctx); err != nil {
				logr.Warn("readiness check failed", zap.String("dependency", check.name), zap.Error(err))
				status[check.name] = "down"
				ready = false
				continue
			}
			status[check.name] = "up"
		}
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": status})
	}
}

func newRouter(cfg *config.Config, logr *zap.Logger, svc routerServices) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(svc.metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(svc.metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", readyHandler(svc.readiness, logr))
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if svc.hub != nil {
		r.GET("/ws", svc.hub.Handle)
	}

	authHandler := handler.NewAuthHandler(svc.auth)
	demandeHandler := handler.NewDemandeHandler(svc.demandes, svc.exports)
	attachmentHandler := handler.NewAttachmentHandler(svc.attachments)
	notificationHandler := handler.NewNotificationHandler(svc.notify)
	dashboardHandler := handler.NewDashboardHandler(svc.dashboard)
	catalogHandler := handler.NewCatalogHandler(svc.catalog, svc.stock)
	userHandler := handler.NewUserHandler(svc.users)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.GET("/attachments/:token", attachmentHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(svc.auth))

	authGroup := secured.Group("/auth")
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.POST("/change-password", authHandler.ChangePassword)
	authGroup.GET("/me", authHandler.Me)

	exportAudit := func(resource string) gin.HandlerFunc {
		return middleware.Audit(svc.auditRepo, logr, models.AuditActionExport, resource)
	}

	demandes := secured.Group("/demandes")
	demandes.GET("", demandeHandler.List)
	demandes.POST("", demandeHandler.Create)
	demandes.GET("/export", exportAudit("demande_export"), demandeHandler.Export)
	demandes.GET("/:id", demandeHandler.Get)
	demandes.PATCH("/:id", demandeHandler.Update)
	demandes.DELETE("/:id", demandeHandler.Delete)
	demandes.POST("/:id/approve", demandeHandler.Approve)
	demandes.POST("/:id/reject", demandeHandler.Reject)
	demandes.GET("/:id/history", demandeHandler.History)
	demandes.GET("/:id/pdf", exportAudit("demande"), demandeHandler.PDF)
	demandes.PUT("/:id/attachment", attachmentHandler.Upload)
	demandes.GET("/:id/attachment/link", attachmentHandler.Link)

	secured.GET("/notifications", notificationHandler.Feed)
	secured.GET("/dashboard/stats", dashboardHandler.Stats)

	storekeeper := middleware.RequireRoles(workflow.RoleMagasinier, workflow.RoleAdmin)

	categories := secured.Group("/categories")
	categories.GET("", catalogHandler.ListCategories)
	categories.GET("/:id", catalogHandler.GetCategory)
	categories.POST("", storekeeper, catalogHandler.CreateCategory)
	categories.PUT("/:id", storekeeper, catalogHandler.UpdateCategory)
	categories.DELETE("/:id", storekeeper, catalogHandler.DeleteCategory)

	products := secured.Group("/products")
	products.GET("", catalogHandler.ListProducts)
	products.GET("/:id", catalogHandler.GetProduct)
	products.POST("", storekeeper, catalogHandler.CreateProduct)
	products.PUT("/:id", storekeeper, catalogHandler.UpdateProduct)
	products.DELETE("/:id", storekeeper, catalogHandler.DeleteProduct)
	products.GET("/:id/movements", storekeeper, catalogHandler.ListMovements)
	products.POST("/:id/movements", storekeeper, catalogHandler.RecordMovement)

	secured.GET("/stock-movements", storekeeper, catalogHandler.ListMovements)

	users := secured.Group("/users")
	users.GET("", middleware.RequireRoles(workflow.RoleAdmin), userHandler.List)
	users.POST("", middleware.RequireRoles(workflow.RoleAdmin), userHandler.Create)
	users.GET("/:id", middleware.RequireRolesOrSelf(workflow.RoleAdmin), userHandler.Get)
	users.PUT("/:id", middleware.RequireRoles(workflow.RoleAdmin), userHandler.Update)
	users.DELETE("/:id", middleware.RequireRoles(workflow.RoleAdmin), userHandler.Delete)

	secured.GET("/system/metrics", middleware.RequireRoles(workflow.RoleAdmin), metricsHandler.Summary)

	return r
}
