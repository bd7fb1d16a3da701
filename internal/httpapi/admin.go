package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/mcphub-dev/mcphub/internal/crawler"
	"github.com/mcphub-dev/mcphub/internal/health"
	"github.com/mcphub-dev/mcphub/internal/scorer"
	"github.com/mcphub-dev/mcphub/internal/security"
	log "github.com/sirupsen/logrus"
)

// Jobs exposes the batch runs an admin can trigger over HTTP.
type Jobs struct {
	Crawl       func(context.Context) (*crawler.Result, error)
	HealthCheck func(context.Context) (*health.Result, error)
	Score       func(context.Context) (*scorer.Result, error)
}

// AdminHandler handles admin login and manual job triggers.
type AdminHandler struct {
	cfg  config.AdminConfig
	jobs Jobs
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(cfg config.AdminConfig, jobs Jobs) *AdminHandler {
	return &AdminHandler{cfg: cfg, jobs: jobs}
}

// loginRequest defines the admin login payload.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks the admin credentials and returns a session JWT.
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if h.cfg.PasswordHash == "" || h.cfg.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login not configured"})
		return
	}
	if req.Username != h.cfg.Username || !security.CheckPassword(h.cfg.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateAdminToken(h.cfg.JWTSecret, req.Username, config.DefaultAdminTokenExpiry)
	if errToken != nil {
		log.WithError(errToken).Error("admin token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Crawl triggers one discovery crawl.
func (h *AdminHandler) Crawl(c *gin.Context) {
	if h.jobs.Crawl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "crawler not configured"})
		return
	}
	result, errRun := h.jobs.Crawl(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("manual crawl failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "crawl failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HealthCheck triggers one probe cycle.
func (h *AdminHandler) HealthCheck(c *gin.Context) {
	if h.jobs.HealthCheck == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prober not configured"})
		return
	}
	result, errRun := h.jobs.HealthCheck(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("manual health check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "health check failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Score triggers one scoring run.
func (h *AdminHandler) Score(c *gin.Context) {
	if h.jobs.Score == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scorer not configured"})
		return
	}
	result, errRun := h.jobs.Score(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("manual scoring failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
