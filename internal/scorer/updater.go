package scorer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/registry"
	log "github.com/sirupsen/logrus"
)

// Result summarizes one scoring run.
type Result struct {
	Scored      int           `json:"scored"`
	Failed      int           `json:"failed"`
	Ranked      int           `json:"ranked"`
	Duration    time.Duration `json:"-"`
	DurationSec float64       `json:"duration_sec"`
}

// Updater runs full scoring passes over the registry.
type Updater struct {
	store       *registry.Store
	concurrency int
}

// NewUpdater constructs an Updater.
func NewUpdater(store *registry.Store, concurrency int) *Updater {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Updater{store: store, concurrency: concurrency}
}

// scoredEntry pairs a server with its freshly computed score, for ranking
// after the parallel phase completes.
type scoredEntry struct {
	id       string
	category string
	toolType models.ToolType
	score    float64
}

// Run scores every active server, then assigns per-category ranks and
// writes snapshots in one transaction. Per-entry failures are counted and
// skipped; only registry connectivity failures abort the run, and they do
// so before any rank is committed.
func (u *Updater) Run(ctx context.Context) (*Result, error) {
	if u == nil || u.store == nil {
		return nil, errors.New("scorer: updater not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	now := start.UTC()

	servers, errList := u.store.ListActiveForScoring(ctx)
	if errList != nil {
		return nil, errList
	}

	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	entries := make([]scoredEntry, 0, len(servers))
	failed := 0

	for _, server := range servers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		srv := server
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			entry, errScore := u.scoreOne(ctx, srv, now)
			mu.Lock()
			defer mu.Unlock()
			if errScore != nil {
				log.WithError(errScore).Warnf("scorer: entry skipped (server=%s)", srv.ID)
				failed++
				return
			}
			entries = append(entries, entry)
		}()
	}
	wg.Wait()

	ranks, snapshots := assignRanks(entries, now)
	if errCommit := u.store.CommitRanksAndSnapshots(ctx, ranks, snapshots); errCommit != nil {
		return nil, errCommit
	}

	result := &Result{
		Scored:   len(entries),
		Failed:   failed,
		Ranked:   len(ranks),
		Duration: time.Since(start),
	}
	result.DurationSec = result.Duration.Seconds()
	log.Infof("scorer: run done scored=%d failed=%d ranked=%d (%.2fs)",
		result.Scored, result.Failed, result.Ranked, result.DurationSec)
	return result, nil
}

// scoreOne computes and persists one server's score. The latest health
// status feeds the liveness dimension; a never-probed server reads as
// unknown and contributes nothing there.
func (u *Updater) scoreOne(ctx context.Context, srv models.Server, now time.Time) (scoredEntry, error) {
	health, errHealth := u.store.LatestHealthStatus(ctx, srv.ID)
	if errHealth != nil {
		return scoredEntry{}, errHealth
	}

	scored := Compute(Inputs{
		Stars:         srv.Stars,
		Stars7dAgo:    srv.Stars7dAgo,
		ForkCount:     srv.ForkCount,
		PushedAt:      srv.PushedAt,
		RepoCreatedAt: srv.RepoCreatedAt,
		HealthStatus:  health,
		Now:           now,
	})

	errApply := u.store.ApplyScore(ctx, registry.ScoreUpdate{
		ServerID:     srv.ID,
		QualityScore: scored.QualityScore,
		Breakdown:    scored.Breakdown,
		Velocity7d:   scored.Velocity7d,
		ScoredAt:     now,
	})
	if errApply != nil {
		return scoredEntry{}, errApply
	}

	return scoredEntry{
		id:       srv.ID,
		category: srv.Category,
		toolType: srv.ToolType,
		score:    scored.QualityScore,
	}, nil
}

// assignRanks orders entries per (category, tool type) by descending score
// with the server ID as a stable tie-break, so equal scores rank
// identically across runs.
func assignRanks(entries []scoredEntry, now time.Time) ([]registry.RankAssignment, []models.ScoreSnapshot) {
	groups := make(map[string][]scoredEntry)
	for _, entry := range entries {
		key := entry.category + "\x00" + string(entry.toolType)
		groups[key] = append(groups[key], entry)
	}

	ranks := make([]registry.RankAssignment, 0, len(entries))
	snapshots := make([]models.ScoreSnapshot, 0, len(entries))
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if group[i].score != group[j].score {
				return group[i].score > group[j].score
			}
			return group[i].id < group[j].id
		})
		for idx, entry := range group {
			rank := idx + 1
			ranks = append(ranks, registry.RankAssignment{ServerID: entry.id, Rank: rank})
			snapshots = append(snapshots, models.ScoreSnapshot{
				ServerID:       entry.id,
				QualityScore:   entry.score,
				RankInCategory: rank,
				RecordedAt:     now,
			})
		}
	}
	return ranks, snapshots
}
