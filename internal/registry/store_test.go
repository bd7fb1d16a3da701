package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mcphub-dev/mcphub/internal/db"
	"github.com/mcphub-dev/mcphub/internal/models"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:registry_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return NewStore(conn)
}

func sampleInput(repoURL string, stars int, crawledAt time.Time) UpsertInput {
	pushed := crawledAt.Add(-48 * time.Hour)
	return UpsertInput{
		RepoURL:     repoURL,
		Name:        "sample-server",
		Owner:       "octocat",
		RepoName:    "sample-server",
		Description: "A sample tool server",
		Category:    "database",
		Topics:      []string{"mcp-server", "Postgres"},
		ToolType:    models.ToolTypeMCP,
		Stars:       stars,
		ForkCount:   3,
		PushedAt:    &pushed,
		IsActive:    true,
		CrawledAt:   crawledAt,
	}
}

func TestUpsertCreatesThenUpdatesInPlace(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, errFirst := store.Upsert(ctx, sampleInput("https://github.com/octocat/sample-server", 10, now))
	if errFirst != nil {
		t.Fatalf("first upsert: %v", errFirst)
	}
	if !created {
		t.Fatalf("expected first upsert to create")
	}

	created, errSecond := store.Upsert(ctx, sampleInput("https://github.com/octocat/sample-server", 25, now.Add(time.Hour)))
	if errSecond != nil {
		t.Fatalf("second upsert: %v", errSecond)
	}
	if created {
		t.Fatalf("expected second upsert to update in place")
	}

	var count int64
	if errCount := store.DB().Model(&models.Server{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count servers: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after re-crawl, got %d", count)
	}

	var row models.Server
	if errFind := store.DB().First(&row).Error; errFind != nil {
		t.Fatalf("load server: %v", errFind)
	}
	if row.Stars != 25 {
		t.Fatalf("expected stars updated to 25, got %d", row.Stars)
	}
}

func TestUpsertVelocitySeedRollingWindow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	repoURL := "https://github.com/octocat/velocity"
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)

	if _, err := store.Upsert(ctx, sampleInput(repoURL, 100, base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// First re-crawl seeds from the stored star count.
	if _, err := store.Upsert(ctx, sampleInput(repoURL, 110, base.Add(time.Hour))); err != nil {
		t.Fatalf("second crawl: %v", err)
	}
	row := loadServer(t, store, repoURL)
	if row.Stars7dAgo != 100 {
		t.Fatalf("expected seed 100 after first re-crawl, got %d", row.Stars7dAgo)
	}

	// A crawl one hour later leaves the seed untouched.
	if _, err := store.Upsert(ctx, sampleInput(repoURL, 120, base.Add(2*time.Hour))); err != nil {
		t.Fatalf("third crawl: %v", err)
	}
	row = loadServer(t, store, repoURL)
	if row.Stars7dAgo != 100 {
		t.Fatalf("seed changed within the window: got %d, want 100", row.Stars7dAgo)
	}

	// A crawl past the window refreshes the seed.
	if _, err := store.Upsert(ctx, sampleInput(repoURL, 150, base.Add(8*24*time.Hour))); err != nil {
		t.Fatalf("late crawl: %v", err)
	}
	row = loadServer(t, store, repoURL)
	if row.Stars7dAgo != 120 {
		t.Fatalf("expected seed refreshed to 120, got %d", row.Stars7dAgo)
	}
}

func loadServer(t *testing.T, store *Store, repoURL string) *models.Server {
	t.Helper()
	var row models.Server
	if errFind := store.DB().Where("repo_url = ?", repoURL).First(&row).Error; errFind != nil {
		t.Fatalf("load server %s: %v", repoURL, errFind)
	}
	return &row
}

func TestListProbeTargetsRequiresOptIn(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Upsert(ctx, sampleInput("https://github.com/octocat/no-opt-in", 5, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	optIn := sampleInput("https://github.com/octocat/opted-in", 5, now)
	if _, err := store.Upsert(ctx, optIn); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	errUpdate := store.DB().Model(&models.Server{}).
		Where("repo_url = ?", optIn.RepoURL).
		Update("health_check_opt_in", true).Error
	if errUpdate != nil {
		t.Fatalf("set opt-in: %v", errUpdate)
	}

	targets, errList := store.ListProbeTargets(ctx)
	if errList != nil {
		t.Fatalf("list targets: %v", errList)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 probe target, got %d", len(targets))
	}
	if targets[0].RepoURL != optIn.RepoURL {
		t.Fatalf("unexpected target %s", targets[0].RepoURL)
	}
}

func TestAppendHealthCheckUpdatesProjection(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Upsert(ctx, sampleInput("https://github.com/octocat/probed", 5, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	row := loadServer(t, store, "https://github.com/octocat/probed")

	status, errStatus := store.LatestHealthStatus(ctx, row.ID)
	if errStatus != nil {
		t.Fatalf("latest status: %v", errStatus)
	}
	if status != models.HealthStatusUnknown {
		t.Fatalf("expected unknown before any probe, got %s", status)
	}

	latency := 150
	httpStatus := 200
	errAppend := store.AppendHealthCheck(ctx, &models.HealthCheck{
		ServerID:       row.ID,
		Status:         models.HealthStatusUp,
		ResponseTimeMs: &latency,
		HTTPStatus:     &httpStatus,
		CheckedAt:      now,
	})
	if errAppend != nil {
		t.Fatalf("append up: %v", errAppend)
	}

	errText := "timeout"
	errAppend = store.AppendHealthCheck(ctx, &models.HealthCheck{
		ServerID:     row.ID,
		Status:       models.HealthStatusDown,
		ErrorMessage: &errText,
		CheckedAt:    now.Add(time.Minute),
	})
	if errAppend != nil {
		t.Fatalf("append down: %v", errAppend)
	}

	status, errStatus = store.LatestHealthStatus(ctx, row.ID)
	if errStatus != nil {
		t.Fatalf("latest status: %v", errStatus)
	}
	if status != models.HealthStatusDown {
		t.Fatalf("expected immediate flip to down, got %s", status)
	}

	count, errCount := store.HealthCheckCount(ctx, row.ID)
	if errCount != nil {
		t.Fatalf("count checks: %v", errCount)
	}
	if count != 2 {
		t.Fatalf("expected 2 history rows, got %d", count)
	}

	history, errHistory := store.HealthHistory(ctx, row.ID, 10)
	if errHistory != nil {
		t.Fatalf("history: %v", errHistory)
	}
	if len(history) != 2 || history[0].Status != models.HealthStatusDown {
		t.Fatalf("expected newest-first history ending in down, got %+v", history)
	}
	if history[0].ResponseTimeMs != nil {
		t.Fatalf("expected null latency on the timed-out probe")
	}
}

func TestRebuildHealthLatestMatchesHistory(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Upsert(ctx, sampleInput("https://github.com/octocat/rebuild", 5, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	row := loadServer(t, store, "https://github.com/octocat/rebuild")

	for i, status := range []string{models.HealthStatusUp, models.HealthStatusDown, models.HealthStatusUp} {
		errAppend := store.AppendHealthCheck(ctx, &models.HealthCheck{
			ServerID:  row.ID,
			Status:    status,
			CheckedAt: now.Add(time.Duration(i) * time.Minute),
		})
		if errAppend != nil {
			t.Fatalf("append %d: %v", i, errAppend)
		}
	}

	// Corrupt the projection, then rebuild it from history.
	errCorrupt := store.DB().Model(&models.ServerHealthLatest{}).
		Where("server_id = ?", row.ID).
		Update("status", models.HealthStatusDown).Error
	if errCorrupt != nil {
		t.Fatalf("corrupt projection: %v", errCorrupt)
	}
	if errRebuild := store.RebuildHealthLatest(ctx, row.ID); errRebuild != nil {
		t.Fatalf("rebuild: %v", errRebuild)
	}

	status, errStatus := store.LatestHealthStatus(ctx, row.ID)
	if errStatus != nil {
		t.Fatalf("latest status: %v", errStatus)
	}
	if status != models.HealthStatusUp {
		t.Fatalf("rebuild diverged from history: got %s", status)
	}
}

func TestListFiltersByHealthAndCategory(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	probed := sampleInput("https://github.com/octocat/up-server", 50, now)
	if _, err := store.Upsert(ctx, probed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	other := sampleInput("https://github.com/octocat/quiet-server", 10, now)
	other.Category = "browser"
	if _, err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	upRow := loadServer(t, store, probed.RepoURL)
	errAppend := store.AppendHealthCheck(ctx, &models.HealthCheck{
		ServerID:  upRow.ID,
		Status:    models.HealthStatusUp,
		CheckedAt: now,
	})
	if errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	rows, total, errList := store.List(ctx, ListQuery{Health: models.HealthStatusUnknown})
	if errList != nil {
		t.Fatalf("list unknown: %v", errList)
	}
	if total != 1 || len(rows) != 1 || rows[0].RepoURL != other.RepoURL {
		t.Fatalf("unknown filter should match only the never-probed server, got %d rows", len(rows))
	}

	rows, total, errList = store.List(ctx, ListQuery{Category: "database"})
	if errList != nil {
		t.Fatalf("list category: %v", errList)
	}
	if total != 1 || rows[0].RepoURL != probed.RepoURL {
		t.Fatalf("category filter mismatch")
	}

	rows, _, errList = store.List(ctx, ListQuery{Search: "QUIET"})
	if errList != nil {
		t.Fatalf("list search: %v", errList)
	}
	if len(rows) != 1 || rows[0].RepoURL != other.RepoURL {
		t.Fatalf("case-insensitive search mismatch")
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	store := setupStore(t)
	if _, errGet := store.Get(context.Background(), "no-such-id"); errGet != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", errGet)
	}
}

func TestCommitRanksAndSnapshotsWithPriorLookup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Upsert(ctx, sampleInput("https://github.com/octocat/ranked", 50, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	row := loadServer(t, store, "https://github.com/octocat/ranked")

	weekAgo := now.Add(-8 * 24 * time.Hour)
	errCommit := store.CommitRanksAndSnapshots(ctx,
		[]RankAssignment{{ServerID: row.ID, Rank: 5}},
		[]models.ScoreSnapshot{{ServerID: row.ID, QualityScore: 40, RankInCategory: 5, RecordedAt: weekAgo}},
	)
	if errCommit != nil {
		t.Fatalf("first commit: %v", errCommit)
	}
	errCommit = store.CommitRanksAndSnapshots(ctx,
		[]RankAssignment{{ServerID: row.ID, Rank: 2}},
		[]models.ScoreSnapshot{{ServerID: row.ID, QualityScore: 55, RankInCategory: 2, RecordedAt: now}},
	)
	if errCommit != nil {
		t.Fatalf("second commit: %v", errCommit)
	}

	updated := loadServer(t, store, "https://github.com/octocat/ranked")
	if updated.RankInCategory != 2 {
		t.Fatalf("expected rank 2, got %d", updated.RankInCategory)
	}

	prior, errPrior := store.PriorSnapshot(ctx, row.ID, now.Add(-7*24*time.Hour))
	if errPrior != nil {
		t.Fatalf("prior snapshot: %v", errPrior)
	}
	if prior == nil || prior.RankInCategory != 5 {
		t.Fatalf("expected week-old snapshot with rank 5, got %+v", prior)
	}
}
