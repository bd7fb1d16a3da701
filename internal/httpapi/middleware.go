package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mcphub-dev/mcphub/internal/quota"
	"github.com/mcphub-dev/mcphub/internal/security"
	log "github.com/sirupsen/logrus"
)

// apiKeyHeader carries the credential on quota-gated routes.
const apiKeyHeader = "X-API-Key"

// QuotaMiddleware admits requests through the quota gate. Every admitted
// request consumes one unit of the credential's monthly budget.
func QuotaMiddleware(gate *quota.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if rawKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		outcome, errConsume := gate.Consume(c.Request.Context(), rawKey)
		if errConsume != nil {
			log.WithError(errConsume).Errorf("quota middleware error (key=%s)", security.MaskAPIKey(rawKey))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota service error"})
			return
		}

		switch outcome.Decision {
		case quota.DecisionOK:
			setQuotaHeaders(c, outcome)
			c.Set("quotaOutcome", outcome)
			c.Next()
		case quota.DecisionRateLimited:
			setQuotaHeaders(c, outcome)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "monthly request limit exceeded",
				"plan":  outcome.Plan,
				"count": outcome.Count,
				"limit": outcome.Limit,
			})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		}
	}
}

func setQuotaHeaders(c *gin.Context, outcome *quota.Outcome) {
	if outcome.Limit <= 0 {
		return
	}
	remaining := outcome.Limit - outcome.Count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(outcome.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
}

// AdminAuthMiddleware validates admin JWTs issued by the login handler.
func AdminAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, errParse := security.ParseAdminToken(jwtSecret, strings.TrimSpace(token))
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("adminUsername", claims.Username)
		c.Next()
	}
}
