package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mcphub-dev/mcphub/internal/cache"
	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/mcphub-dev/mcphub/internal/quota"
	"github.com/mcphub-dev/mcphub/internal/registry"
)

// Deps wires the handlers' dependencies.
type Deps struct {
	Store    *registry.Store
	Gate     *quota.Gate
	Cache    *cache.Cache
	AdminCfg config.AdminConfig
	Jobs     Jobs
}

// NewRouter builds the gin engine with all public, keyed, and admin
// routes registered.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandler := NewAuthHandler(deps.Gate)
	r.POST("/auth/register", authHandler.Register)
	r.GET("/auth/usage", authHandler.Usage)

	serverHandler := NewServerHandler(deps.Store, deps.Cache)
	gated := r.Group("/", QuotaMiddleware(deps.Gate))
	gated.GET("/servers", serverHandler.List)
	gated.GET("/servers/:id", serverHandler.Get)
	gated.GET("/servers/:id/health-history", serverHandler.HealthHistory)

	adminHandler := NewAdminHandler(deps.AdminCfg, deps.Jobs)
	r.POST("/admin/login", adminHandler.Login)
	admin := r.Group("/admin", AdminAuthMiddleware(deps.AdminCfg.JWTSecret))
	admin.POST("/crawl", adminHandler.Crawl)
	admin.POST("/health-check", adminHandler.HealthCheck)
	admin.POST("/score", adminHandler.Score)

	return r
}
