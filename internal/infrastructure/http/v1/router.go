// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/auth"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/http/v1/handlers"
	"fiscalhub/internal/infrastructure/http/v1/middleware"
	"fiscalhub/pkg/logger"
)

// RouterConfig holds the dependencies of the API.
type RouterConfig struct {
	// Tenants resolves tenant database pools per request.
	Tenants middleware.PoolSource
	// MetaDB is checked by the readiness probe.
	MetaDB handlers.Pinger

	Logger       *logger.Logger
	JWTValidator middleware.JWTValidator
	Version      string

	Documents     handlers.DocumentService
	Contingency   handlers.ContingencyService
	Numbering     numerator.Generator
	Subscriptions handlers.SubscriptionService
	Profiles      fiscal.ProfileRepository
	Sealer        handlers.Sealer
	Gateways      handlers.GatewayCache
}

// NewRouter creates the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Order matters: errors are rendered inside the trace and log scope.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	health := handlers.NewHealthHandler(cfg.MetaDB, cfg.Version)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	api := router.Group("/api/v1")
	api.Use(middleware.TenantDB(cfg.Tenants))
	api.Use(middleware.Auth(cfg.JWTValidator))

	operator := middleware.RequireRole(auth.RoleOperator, auth.RoleAdmin)
	admin := middleware.RequireRole(auth.RoleAdmin)
	base := handlers.NewBaseHandler()

	registerDocumentRoutes(api.Group("/documents", operator), base, cfg)
	registerContingencyRoutes(api.Group("/contingency"), base, cfg, operator, admin)
	registerAdminRoutes(api.Group("", admin), base, cfg)

	return router
}

func registerDocumentRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewDocumentHandler(base, cfg.Documents)
	rg.POST("", h.Emit)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/cancel", h.Cancel)
	rg.POST("/:id/refresh", h.Refresh)
	rg.GET("/:id/pdf", h.PDF)
	rg.GET("/:id/xml", h.XML)
}

func registerContingencyRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig, operator, admin gin.HandlerFunc) {
	h := handlers.NewContingencyHandler(base, cfg.Contingency)
	rg.GET("", operator, h.Count)
	rg.POST("/retransmit", admin, h.Retransmit)
}

func registerAdminRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	numbering := handlers.NewNumberingHandler(base, cfg.Numbering)
	rg.GET("/numbering/gap", numbering.Gap)
	rg.PUT("/numbering/next", numbering.SetNext)

	webhooks := handlers.NewWebhookHandler(base, cfg.Subscriptions)
	rg.POST("/webhooks", webhooks.Subscribe)
	rg.GET("/webhooks", webhooks.List)
	rg.DELETE("/webhooks/:id", webhooks.Delete)
	rg.POST("/webhooks/:id/reactivate", webhooks.Reactivate)

	profile := handlers.NewProfileHandler(base, cfg.Profiles, cfg.Sealer, cfg.Gateways)
	rg.GET("/profile", profile.Get)
	rg.PUT("/profile", profile.Put)
}
