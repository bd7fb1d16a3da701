package scorer

import (
	"testing"
	"time"

	"github.com/mcphub-dev/mcphub/internal/models"
)

func TestComputeIsDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pushed := now.Add(-5 * 24 * time.Hour)
	created := now.Add(-400 * 24 * time.Hour)
	in := Inputs{
		Stars:         250,
		Stars7dAgo:    230,
		ForkCount:     40,
		PushedAt:      &pushed,
		RepoCreatedAt: &created,
		HealthStatus:  models.HealthStatusUp,
		Now:           now,
	}

	first := Compute(in)
	second := Compute(in)
	if first.QualityScore != second.QualityScore {
		t.Fatalf("identical inputs produced different scores: %v vs %v", first.QualityScore, second.QualityScore)
	}
	for key, value := range first.Breakdown {
		if second.Breakdown[key] != value {
			t.Fatalf("breakdown %s differs: %v vs %v", key, value, second.Breakdown[key])
		}
	}
}

func TestComputeNegativeVelocityFlooredAtZero(t *testing.T) {
	now := time.Now().UTC()
	scored := Compute(Inputs{Stars: 100, Stars7dAgo: 150, Now: now})
	if scored.Velocity7d != 0 {
		t.Fatalf("expected velocity floored at 0, got %d", scored.Velocity7d)
	}
	if scored.Breakdown["momentum"] != 0 {
		t.Fatalf("expected zero momentum for a declining repo, got %v", scored.Breakdown["momentum"])
	}
}

func TestComputeMissingPushTimestampFlagged(t *testing.T) {
	scored := Compute(Inputs{Stars: 100, Now: time.Now().UTC()})
	if scored.Breakdown["freshness"] != 0 {
		t.Fatalf("expected zero freshness without a push timestamp, got %v", scored.Breakdown["freshness"])
	}
	if scored.Breakdown["freshness_missing"] != 1 {
		t.Fatalf("expected the gap flagged in the breakdown")
	}
}

func TestComputeFreshnessDecay(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	recent := now.Add(-1 * time.Hour)
	fresh := Compute(Inputs{Stars: 10, PushedAt: &recent, Now: now})
	stale := now.Add(-90 * 24 * time.Hour)
	old := Compute(Inputs{Stars: 10, PushedAt: &stale, Now: now})

	if fresh.Breakdown["freshness"] <= old.Breakdown["freshness"] {
		t.Fatalf("freshness must decay: recent=%v old=%v",
			fresh.Breakdown["freshness"], old.Breakdown["freshness"])
	}
	if old.Breakdown["freshness"] != 0 {
		t.Fatalf("a 90-day-old push should bottom out at zero, got %v", old.Breakdown["freshness"])
	}
}

func TestComputeNewcomerBoost(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newRepo := now.Add(-10 * 24 * time.Hour)
	oldRepo := now.Add(-300 * 24 * time.Hour)

	boosted := Compute(Inputs{Stars: 30, Stars7dAgo: 20, RepoCreatedAt: &newRepo, Now: now})
	plain := Compute(Inputs{Stars: 30, Stars7dAgo: 20, RepoCreatedAt: &oldRepo, Now: now})

	if boosted.Breakdown["momentum"] <= plain.Breakdown["momentum"] {
		t.Fatalf("expected newcomer boost: boosted=%v plain=%v",
			boosted.Breakdown["momentum"], plain.Breakdown["momentum"])
	}
	if boosted.Breakdown["momentum"] != plain.Breakdown["momentum"]*1.5 {
		t.Fatalf("expected 1.5x boost, got %v vs %v",
			boosted.Breakdown["momentum"], plain.Breakdown["momentum"])
	}
}

func TestComputeNewcomerBoostCappedAt100(t *testing.T) {
	now := time.Now().UTC()
	newRepo := now.Add(-5 * 24 * time.Hour)
	scored := Compute(Inputs{Stars: 200, Stars7dAgo: 100, RepoCreatedAt: &newRepo, Now: now})
	if scored.Breakdown["momentum"] != 100 {
		t.Fatalf("expected momentum capped at 100, got %v", scored.Breakdown["momentum"])
	}
}

func TestComputeLivenessDimension(t *testing.T) {
	now := time.Now().UTC()
	base := Inputs{Stars: 100, Now: now}

	up := base
	up.HealthStatus = models.HealthStatusUp
	down := base
	down.HealthStatus = models.HealthStatusDown
	unknown := base
	unknown.HealthStatus = models.HealthStatusUnknown

	upScored := Compute(up)
	downScored := Compute(down)
	unknownScored := Compute(unknown)

	if unknownScored.Breakdown["liveness"] != 0 {
		t.Fatalf("unknown health must contribute zero, got %v", unknownScored.Breakdown["liveness"])
	}
	if upScored.Breakdown["liveness"] <= 0 {
		t.Fatalf("up health must contribute a positive bonus, got %v", upScored.Breakdown["liveness"])
	}
	if downScored.Breakdown["liveness"] >= 0 {
		t.Fatalf("down health must contribute a penalty, got %v", downScored.Breakdown["liveness"])
	}
	if !(upScored.QualityScore > unknownScored.QualityScore && unknownScored.QualityScore > downScored.QualityScore) {
		t.Fatalf("expected up > unknown > down, got %v / %v / %v",
			upScored.QualityScore, unknownScored.QualityScore, downScored.QualityScore)
	}
}

func TestComputeScoreStaysInRange(t *testing.T) {
	now := time.Now().UTC()
	pushed := now
	created := now.Add(-time.Hour)
	maxed := Compute(Inputs{
		Stars:         1000000,
		Stars7dAgo:    0,
		ForkCount:     100000,
		PushedAt:      &pushed,
		RepoCreatedAt: &created,
		HealthStatus:  models.HealthStatusUp,
		Now:           now,
	})
	if maxed.QualityScore > 100 {
		t.Fatalf("score exceeded 100: %v", maxed.QualityScore)
	}

	floor := Compute(Inputs{HealthStatus: models.HealthStatusDown, Now: now})
	if floor.QualityScore < 0 {
		t.Fatalf("score went negative: %v", floor.QualityScore)
	}
}
