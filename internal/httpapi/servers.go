package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mcphub-dev/mcphub/internal/cache"
	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/registry"
	log "github.com/sirupsen/logrus"
)

// trendWindow is the minimum snapshot age used for rank trend comparison.
const trendWindow = 7 * 24 * time.Hour

// ServerHandler serves the public server directory.
type ServerHandler struct {
	store *registry.Store
	cache *cache.Cache
}

// NewServerHandler constructs a ServerHandler.
func NewServerHandler(store *registry.Store, respCache *cache.Cache) *ServerHandler {
	return &ServerHandler{store: store, cache: respCache}
}

// listServersQuery defines query parameters for the server listing.
type listServersQuery struct {
	Category string `form:"category"`
	Search   string `form:"search"`
	Health   string `form:"health"`
	Sort     string `form:"sort,default=stars"`
	Page     int    `form:"page,default=1"`
	PerPage  int    `form:"per_page,default=20"`
}

// List returns a filtered, paginated server listing. Responses are served
// from the redis cache when one is configured.
func (h *ServerHandler) List(c *gin.Context) {
	var q listServersQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	cacheKey := fmt.Sprintf("servers:%s:%s:%s:%s:%d:%d",
		q.Category, q.Search, q.Health, q.Sort, q.Page, q.PerPage)
	if payload, errGet := h.cache.Get(c.Request.Context(), cacheKey); errGet == nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
		return
	}

	rows, total, errList := h.store.List(c.Request.Context(), registry.ListQuery{
		Category: q.Category,
		Search:   q.Search,
		Health:   q.Health,
		Sort:     q.Sort,
		Page:     q.Page,
		PerPage:  q.PerPage,
	})
	if errList != nil {
		log.WithError(errList).Error("list servers failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list servers failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, serializeServer(&row))
	}
	body := gin.H{
		"servers":  out,
		"total":    total,
		"page":     q.Page,
		"per_page": q.PerPage,
	}

	if payload, errMarshal := json.Marshal(body); errMarshal == nil {
		h.cache.Set(c.Request.Context(), cacheKey, payload)
	}
	c.JSON(http.StatusOK, body)
}

// Get returns one server with its latest health and week-over-week rank
// trend.
func (h *ServerHandler) Get(c *gin.Context) {
	id := c.Param("id")
	row, errGet := h.store.Get(c.Request.Context(), id)
	if errors.Is(errGet, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	if errGet != nil {
		log.WithError(errGet).Errorf("get server failed (id=%s)", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get server failed"})
		return
	}

	body := serializeServer(row)
	body["rank_delta"] = h.rankDelta(c, row)
	c.JSON(http.StatusOK, body)
}

// rankDelta compares the current rank against the nearest snapshot at
// least one trend window old. Positive means the server moved up. No prior
// snapshot yields null.
func (h *ServerHandler) rankDelta(c *gin.Context, row *registry.ServerWithHealth) *int {
	if row.RankInCategory <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-trendWindow)
	prior, errSnap := h.store.PriorSnapshot(c.Request.Context(), row.ID, cutoff)
	if errSnap != nil {
		log.WithError(errSnap).Warnf("rank trend unavailable (id=%s)", row.ID)
		return nil
	}
	if prior == nil || prior.RankInCategory <= 0 {
		return nil
	}
	delta := prior.RankInCategory - row.RankInCategory
	return &delta
}

// healthHistoryQuery defines query parameters for the probe history.
type healthHistoryQuery struct {
	Limit int `form:"limit,default=50"`
}

// HealthHistory returns the most recent probe records for a server.
func (h *ServerHandler) HealthHistory(c *gin.Context) {
	id := c.Param("id")
	if _, errGet := h.store.Get(c.Request.Context(), id); errors.Is(errGet, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}

	var q healthHistoryQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	rows, errList := h.store.HealthHistory(c.Request.Context(), id, q.Limit)
	if errList != nil {
		log.WithError(errList).Errorf("health history failed (id=%s)", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "health history failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, rec := range rows {
		out = append(out, gin.H{
			"status":           rec.Status,
			"response_time_ms": rec.ResponseTimeMs,
			"http_status":      rec.HTTPStatus,
			"error_message":    rec.ErrorMessage,
			"checked_at":       rec.CheckedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"server_id": id, "checks": out})
}

// serializeServer converts a joined row to an API response payload.
func serializeServer(row *registry.ServerWithHealth) gin.H {
	healthStatus := models.HealthStatusUnknown
	if row.HealthStatus != nil {
		healthStatus = *row.HealthStatus
	}
	return gin.H{
		"id":                   row.ID,
		"repo_url":             row.RepoURL,
		"name":                 row.Name,
		"owner":                row.Owner,
		"repo_name":            row.RepoName,
		"description":          row.Description,
		"category":             row.Category,
		"topics":               json.RawMessage(jsonOrDefault(row.Topics, "[]")),
		"readme_summary":       row.ReadmeSummary,
		"tool_type":            row.ToolType,
		"stars":                row.Stars,
		"fork_count":           row.ForkCount,
		"open_issues":          row.OpenIssues,
		"pushed_at":            row.PushedAt,
		"velocity_7d":          row.Velocity7d,
		"quality_score":        row.QualityScore,
		"score_breakdown":      json.RawMessage(jsonOrDefault(row.ScoreBreakdown, "{}")),
		"rank_in_category":     row.RankInCategory,
		"health_status":        healthStatus,
		"last_response_time_ms": row.LastResponseTimeMs,
		"last_health_check_at": row.LastHealthCheckAt,
		"last_crawled_at":      row.LastCrawledAt,
		"created_at":           row.CreatedAt,
		"updated_at":           row.UpdatedAt,
	}
}

func jsonOrDefault(raw []byte, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return raw
}
