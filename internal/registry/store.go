package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcphub-dev/mcphub/internal/db"
	"github.com/mcphub-dev/mcphub/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// velocityWindow is the trailing window used for star velocity. A seed
// captured within this window is left untouched by subsequent crawls.
const velocityWindow = 7 * 24 * time.Hour

// ErrNotFound indicates a server row does not exist.
var ErrNotFound = errors.New("registry: server not found")

// Store wraps all registry persistence. Crawler, prober, and scorer write
// disjoint column sets through it, so their batch runs never conflict.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// DB exposes the underlying connection for dialect checks.
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertInput carries one normalized crawl result. It deliberately has no
// place for contributor contact details; anything beyond the owner login is
// dropped before it ever reaches this layer.
type UpsertInput struct {
	RepoURL       string
	Name          string
	Owner         string
	RepoName      string
	Description   string
	Category      string
	Topics        []string
	ReadmeSummary string
	ToolType      models.ToolType
	Stars         int
	ForkCount     int
	OpenIssues    int
	PushedAt      *time.Time
	RepoCreatedAt *time.Time
	IsActive      bool
	CrawledAt     time.Time
}

// Upsert inserts a new server or updates the existing row keyed by repo
// URL. It reports whether a new row was created. The velocity seed is
// refreshed only when the previous seed is older than the trailing window,
// so the seed tracks a rolling week rather than every crawl tick.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("registry: store not initialized")
	}
	repoURL := strings.TrimSpace(in.RepoURL)
	if repoURL == "" {
		return false, errors.New("registry: empty repo url")
	}

	topics, errTopics := json.Marshal(normalizeTopics(in.Topics))
	if errTopics != nil {
		return false, fmt.Errorf("registry: marshal topics: %w", errTopics)
	}
	description := in.Description
	if len(description) > 500 {
		description = description[:500]
	}

	created := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Server
		errFind := tx.Where("repo_url = ?", repoURL).First(&existing).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			row := models.Server{
				RepoURL:       repoURL,
				Name:          in.Name,
				Owner:         in.Owner,
				RepoName:      in.RepoName,
				Description:   description,
				Category:      in.Category,
				Topics:        datatypes.JSON(topics),
				ReadmeSummary: in.ReadmeSummary,
				ToolType:      models.NormalizeToolType(string(in.ToolType)),
				Stars:         in.Stars,
				ForkCount:     in.ForkCount,
				OpenIssues:    in.OpenIssues,
				PushedAt:      in.PushedAt,
				RepoCreatedAt: in.RepoCreatedAt,
				IsActive:      in.IsActive,
				LastCrawledAt: &in.CrawledAt,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}
			created = true
			return nil
		}
		if errFind != nil {
			return errFind
		}

		updates := map[string]any{
			"name":            in.Name,
			"owner":           in.Owner,
			"repo_name":       in.RepoName,
			"description":     description,
			"category":        in.Category,
			"topics":          datatypes.JSON(topics),
			"stars":           in.Stars,
			"fork_count":      in.ForkCount,
			"open_issues":     in.OpenIssues,
			"pushed_at":       in.PushedAt,
			"repo_created_at": in.RepoCreatedAt,
			"is_active":       in.IsActive,
			"last_crawled_at": &in.CrawledAt,
		}
		if in.ReadmeSummary != "" {
			updates["readme_summary"] = in.ReadmeSummary
		}
		if existing.VelocitySeededAt == nil || in.CrawledAt.Sub(*existing.VelocitySeededAt) >= velocityWindow {
			updates["stars_7d_ago"] = existing.Stars
			updates["velocity_seeded_at"] = &in.CrawledAt
		}
		return tx.Model(&models.Server{}).Where("id = ?", existing.ID).Updates(updates).Error
	})
	if errTx != nil {
		return false, fmt.Errorf("registry: upsert %s: %w", repoURL, errTx)
	}
	return created, nil
}

// ProbeTarget is the subset of a server row the prober needs.
type ProbeTarget struct {
	ID      string
	Name    string
	RepoURL string
}

// ListProbeTargets returns servers eligible for health probing: active rows
// whose owners opted in. Opt-out takes effect on the next cycle because
// every cycle re-reads this list.
func (s *Store) ListProbeTargets(ctx context.Context) ([]ProbeTarget, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: store not initialized")
	}
	var targets []ProbeTarget
	errFind := s.db.WithContext(ctx).
		Model(&models.Server{}).
		Select("id", "name", "repo_url").
		Where("health_check_opt_in = ? AND is_active = ?", true, true).
		Order("id ASC").
		Find(&targets).Error
	if errFind != nil {
		return nil, fmt.Errorf("registry: list probe targets: %w", errFind)
	}
	return targets, nil
}

// ListActiveForScoring returns all active servers with the columns the
// scorer reads.
func (s *Store) ListActiveForScoring(ctx context.Context) ([]models.Server, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: store not initialized")
	}
	var rows []models.Server
	errFind := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("registry: list for scoring: %w", errFind)
	}
	return rows, nil
}

// AppendHealthCheck inserts one probe record and refreshes the latest-health
// projection in the same transaction, keeping the projection derivable from
// the append-only history at all times.
func (s *Store) AppendHealthCheck(ctx context.Context, rec *models.HealthCheck) error {
	if s == nil || s.db == nil {
		return errors.New("registry: store not initialized")
	}
	if rec == nil || strings.TrimSpace(rec.ServerID) == "" {
		return errors.New("registry: health check requires a server id")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(rec).Error; errCreate != nil {
			return fmt.Errorf("registry: append health check: %w", errCreate)
		}
		latest := models.ServerHealthLatest{
			ServerID:       rec.ServerID,
			Status:         rec.Status,
			ResponseTimeMs: rec.ResponseTimeMs,
			CheckedAt:      rec.CheckedAt,
		}
		errUpsert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "response_time_ms", "checked_at"}),
		}).Create(&latest).Error
		if errUpsert != nil {
			return fmt.Errorf("registry: update health projection: %w", errUpsert)
		}
		return nil
	})
}

// RebuildHealthLatest recomputes the projection for one server from the
// history log. Used after history rows are pruned or repaired.
func (s *Store) RebuildHealthLatest(ctx context.Context, serverID string) error {
	if s == nil || s.db == nil {
		return errors.New("registry: store not initialized")
	}
	var last models.HealthCheck
	errFind := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("checked_at DESC").
		First(&last).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).
			Where("server_id = ?", serverID).
			Delete(&models.ServerHealthLatest{}).Error
	}
	if errFind != nil {
		return fmt.Errorf("registry: rebuild projection: %w", errFind)
	}
	latest := models.ServerHealthLatest{
		ServerID:       last.ServerID,
		Status:         last.Status,
		ResponseTimeMs: last.ResponseTimeMs,
		CheckedAt:      last.CheckedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "response_time_ms", "checked_at"}),
	}).Create(&latest).Error
}

// HealthHistory returns the most recent probe records for a server.
func (s *Store) HealthHistory(ctx context.Context, serverID string, limit int) ([]models.HealthCheck, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: store not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.HealthCheck
	errFind := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("checked_at DESC").
		Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("registry: health history: %w", errFind)
	}
	return rows, nil
}

// HealthCheckCount reports how many probe records exist for a server.
func (s *Store) HealthCheckCount(ctx context.Context, serverID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("registry: store not initialized")
	}
	var count int64
	errCount := s.db.WithContext(ctx).
		Model(&models.HealthCheck{}).
		Where("server_id = ?", serverID).
		Count(&count).Error
	if errCount != nil {
		return 0, fmt.Errorf("registry: count health checks: %w", errCount)
	}
	return count, nil
}

// ServerWithHealth joins a server row with its latest-health projection.
type ServerWithHealth struct {
	models.Server      `gorm:"embedded"`
	HealthStatus       *string
	LastResponseTimeMs *int
	LastHealthCheckAt  *time.Time
}

// ListQuery filters and paginates the public server listing.
type ListQuery struct {
	Category string
	Search   string
	Health   string
	Sort     string
	Page     int
	PerPage  int
}

// Valid sort keys for List.
var validSorts = map[string]string{
	"stars":           "mcp_servers.stars DESC",
	"name":            "mcp_servers.name ASC",
	"score":           "mcp_servers.quality_score DESC",
	"last_crawled_at": "mcp_servers.last_crawled_at DESC",
}

// List returns active servers joined with their latest health, filtered and
// paginated.
func (s *Store) List(ctx context.Context, q ListQuery) ([]ServerWithHealth, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("registry: store not initialized")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 100 {
		q.PerPage = 20
	}
	orderExpr, ok := validSorts[q.Sort]
	if !ok {
		orderExpr = validSorts["stars"]
	}

	query := s.db.WithContext(ctx).
		Model(&models.Server{}).
		Joins("LEFT JOIN server_health_latest ON server_health_latest.server_id = mcp_servers.id").
		Where("mcp_servers.is_active = ?", true)

	if q.Category != "" {
		query = query.Where("mcp_servers.category = ?", q.Category)
	}
	if q.Search != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+q.Search+"%")
		query = query.Where(
			db.CaseInsensitiveLikeExpr(s.db, "mcp_servers.name")+" OR "+db.CaseInsensitiveLikeExpr(s.db, "mcp_servers.description"),
			pattern, pattern,
		)
	}
	switch q.Health {
	case "":
	case models.HealthStatusUnknown:
		query = query.Where("server_health_latest.status IS NULL OR server_health_latest.status = ?", models.HealthStatusUnknown)
	default:
		query = query.Where("server_health_latest.status = ?", q.Health)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("registry: count servers: %w", errCount)
	}

	var rows []ServerWithHealth
	errFind := query.
		Select("mcp_servers.*, server_health_latest.status AS health_status, server_health_latest.response_time_ms AS last_response_time_ms, server_health_latest.checked_at AS last_health_check_at").
		Order(orderExpr).
		Offset((q.Page - 1) * q.PerPage).
		Limit(q.PerPage).
		Find(&rows).Error
	if errFind != nil {
		return nil, 0, fmt.Errorf("registry: list servers: %w", errFind)
	}
	return rows, total, nil
}

// Get returns one server joined with its latest health.
func (s *Store) Get(ctx context.Context, id string) (*ServerWithHealth, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: store not initialized")
	}
	var row ServerWithHealth
	errFind := s.db.WithContext(ctx).
		Model(&models.Server{}).
		Select("mcp_servers.*, server_health_latest.status AS health_status, server_health_latest.response_time_ms AS last_response_time_ms, server_health_latest.checked_at AS last_health_check_at").
		Joins("LEFT JOIN server_health_latest ON server_health_latest.server_id = mcp_servers.id").
		Where("mcp_servers.id = ?", id).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("registry: get server: %w", errFind)
	}
	return &row, nil
}

// ScoreUpdate carries one server's scoring result.
type ScoreUpdate struct {
	ServerID     string
	QualityScore float64
	Breakdown    map[string]float64
	Velocity7d   int
	ScoredAt     time.Time
}

// ApplyScore persists one server's composite score and breakdown.
func (s *Store) ApplyScore(ctx context.Context, upd ScoreUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("registry: store not initialized")
	}
	breakdown, errMarshal := json.Marshal(upd.Breakdown)
	if errMarshal != nil {
		return fmt.Errorf("registry: marshal breakdown: %w", errMarshal)
	}
	errUpdate := s.db.WithContext(ctx).
		Model(&models.Server{}).
		Where("id = ?", upd.ServerID).
		Updates(map[string]any{
			"quality_score":    upd.QualityScore,
			"score_breakdown":  datatypes.JSON(breakdown),
			"velocity_7d":      upd.Velocity7d,
			"score_updated_at": &upd.ScoredAt,
		}).Error
	if errUpdate != nil {
		return fmt.Errorf("registry: apply score: %w", errUpdate)
	}
	return nil
}

// RankAssignment carries one server's computed category rank.
type RankAssignment struct {
	ServerID string
	Rank     int
}

// CommitRanksAndSnapshots assigns ranks and writes one snapshot per scored
// server in a single transaction, so a failed run never leaves a partial
// rank ordering behind.
func (s *Store) CommitRanksAndSnapshots(ctx context.Context, ranks []RankAssignment, snapshots []models.ScoreSnapshot) error {
	if s == nil || s.db == nil {
		return errors.New("registry: store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, assignment := range ranks {
			errRank := tx.Model(&models.Server{}).
				Where("id = ?", assignment.ServerID).
				Update("rank_in_category", assignment.Rank).Error
			if errRank != nil {
				return fmt.Errorf("registry: assign rank: %w", errRank)
			}
		}
		if len(snapshots) == 0 {
			return nil
		}
		if errSnap := tx.CreateInBatches(snapshots, 100).Error; errSnap != nil {
			return fmt.Errorf("registry: insert snapshots: %w", errSnap)
		}
		return nil
	})
}

// PriorSnapshot returns the most recent snapshot for a server recorded at or
// before the cutoff, for week-over-week trend comparison.
func (s *Store) PriorSnapshot(ctx context.Context, serverID string, cutoff time.Time) (*models.ScoreSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: store not initialized")
	}
	var snap models.ScoreSnapshot
	errFind := s.db.WithContext(ctx).
		Where("server_id = ? AND recorded_at <= ?", serverID, cutoff).
		Order("recorded_at DESC").
		First(&snap).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("registry: prior snapshot: %w", errFind)
	}
	return &snap, nil
}

// LatestHealthStatus returns the projected status for a server, or unknown
// when the server has never been probed.
func (s *Store) LatestHealthStatus(ctx context.Context, serverID string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("registry: store not initialized")
	}
	var latest models.ServerHealthLatest
	errFind := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		First(&latest).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.HealthStatusUnknown, nil
	}
	if errFind != nil {
		return "", fmt.Errorf("registry: latest health: %w", errFind)
	}
	return latest.Status, nil
}

func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := map[string]struct{}{}
	for _, topic := range topics {
		trimmed := strings.ToLower(strings.TrimSpace(topic))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
