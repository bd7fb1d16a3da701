package scorer

import (
	"math"
	"time"

	"github.com/mcphub-dev/mcphub/internal/models"
)

// Normalization anchors for the dimension math.
const (
	// starCap is the star count at which popularity saturates.
	starCap = 10000
	// velocityMax is the 7-day star gain worth a full momentum score.
	velocityMax = 50
	// freshnessWindowDays is the push-recency decay window.
	freshnessWindowDays = 30
	// newcomerDays is the registration age under which the newcomer boost
	// applies.
	newcomerDays = 30
	// newcomerMultiplier lifts momentum for newly created repositories so
	// they are not buried by established ones before stars accrue.
	newcomerMultiplier = 1.5

	// livenessUp and livenessDown are the raw liveness dimension values.
	// Weighted they contribute a small bonus or penalty, never dominating
	// the metadata dimensions.
	livenessUp   = 25.0
	livenessDown = -25.0
)

// Dimension weights, summing to 1.0.
const (
	weightPopularity = 0.30
	weightMomentum   = 0.25
	weightFreshness  = 0.25
	weightLiveness   = 0.20
)

// Inputs carries everything one composite score depends on.
type Inputs struct {
	Stars         int
	Stars7dAgo    int
	ForkCount     int
	PushedAt      *time.Time
	RepoCreatedAt *time.Time
	HealthStatus  string
	Now           time.Time
}

// Scored is one computed composite score with its per-dimension breakdown.
type Scored struct {
	QualityScore float64
	Velocity7d   int
	Breakdown    map[string]float64
}

// Compute derives the composite quality score from the inputs. Missing
// inputs never fail the computation; they contribute zero and are flagged
// in the breakdown.
func Compute(in Inputs) Scored {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	velocity := in.Stars - in.Stars7dAgo
	if velocity < 0 {
		velocity = 0
	}

	popularity := popularityScore(in.Stars, in.ForkCount)
	momentum := momentumScore(velocity, in.RepoCreatedAt, now)
	freshness, freshnessMissing := freshnessScore(in.PushedAt, now)
	liveness := livenessScore(in.HealthStatus)

	total := popularity*weightPopularity +
		momentum*weightMomentum +
		freshness*weightFreshness +
		liveness*weightLiveness
	total = clamp(total, 0, 100)

	breakdown := map[string]float64{
		"popularity": round1(popularity),
		"momentum":   round1(momentum),
		"freshness":  round1(freshness),
		"liveness":   round1(liveness),
	}
	if freshnessMissing {
		breakdown["freshness_missing"] = 1
	}

	return Scored{
		QualityScore: round2(total),
		Velocity7d:   velocity,
		Breakdown:    breakdown,
	}
}

// popularityScore log-scales stars and forks so runaway repositories do
// not flatten everything else. Stars carry most of the weight.
func popularityScore(stars, forks int) float64 {
	return logScore(stars, starCap)*0.7 + logScore(forks, starCap/10)*0.3
}

func logScore(value, ceiling int) float64 {
	if value <= 0 || ceiling <= 0 {
		return 0
	}
	score := 100 * math.Log1p(float64(value)) / math.Log1p(float64(ceiling))
	return clamp(score, 0, 100)
}

// momentumScore normalizes the trailing-week star gain and applies the
// newcomer boost for repositories registered within the last month.
func momentumScore(velocity int, createdAt *time.Time, now time.Time) float64 {
	score := clamp(float64(velocity)/velocityMax*100, 0, 100)
	if createdAt != nil {
		ageDays := now.Sub(*createdAt).Hours() / 24
		if ageDays >= 0 && ageDays <= newcomerDays {
			score = clamp(score*newcomerMultiplier, 0, 100)
		}
	}
	return score
}

// freshnessScore decays linearly with days since the last push; beyond the
// window it bottoms out at zero. A missing push timestamp scores zero and
// is reported so the breakdown explains the gap.
func freshnessScore(pushedAt *time.Time, now time.Time) (float64, bool) {
	if pushedAt == nil {
		return 0, true
	}
	days := now.Sub(*pushedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := (freshnessWindowDays - days) / freshnessWindowDays * 100
	return clamp(score, 0, 100), false
}

func livenessScore(status string) float64 {
	switch status {
	case models.HealthStatusUp:
		return livenessUp
	case models.HealthStatusDown:
		return livenessDown
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
