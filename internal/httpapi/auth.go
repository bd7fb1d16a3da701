package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mcphub-dev/mcphub/internal/quota"
	"github.com/mcphub-dev/mcphub/internal/security"
	log "github.com/sirupsen/logrus"
)

// AuthHandler handles API key registration and usage lookup.
type AuthHandler struct {
	gate *quota.Gate
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(gate *quota.Gate) *AuthHandler {
	return &AuthHandler{gate: gate}
}

// registerRequest defines the key registration payload.
type registerRequest struct {
	Email string `json:"email" binding:"required"`
	Plan  string `json:"plan"`
}

// Register issues a new API key. The raw key appears in this response and
// nowhere else; only its hash is stored.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	rawKey, key, errIssue := h.gate.Issue(c.Request.Context(), req.Email, req.Plan)
	if errors.Is(errIssue, quota.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if errIssue != nil {
		log.WithError(errIssue).Error("key registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	log.Infof("api key issued (email=%s plan=%s key=%s)", key.UserEmail, key.Plan, security.MaskAPIKey(rawKey))
	c.JSON(http.StatusCreated, gin.H{
		"api_key":    rawKey,
		"email":      key.UserEmail,
		"plan":       key.Plan,
		"limit":      key.ReqLimit,
		"created_at": key.CreatedAt,
	})
}

// Usage returns the caller's current quota state without consuming a
// request.
func (h *AuthHandler) Usage(c *gin.Context) {
	rawKey := strings.TrimSpace(c.GetHeader(apiKeyHeader))
	if rawKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
		return
	}

	outcome, errPeek := h.gate.Peek(c.Request.Context(), rawKey)
	if errPeek != nil {
		log.WithError(errPeek).Error("usage lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
		return
	}
	if outcome.Decision == quota.DecisionAuthFailed {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":         outcome.UserEmail,
		"plan":          outcome.Plan,
		"count":         outcome.Count,
		"limit":         outcome.Limit,
		"last_reset_at": outcome.ResetAt,
	})
}
