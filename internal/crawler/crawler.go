package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/registry"
	log "github.com/sirupsen/logrus"
)

const (
	// maxSearchAttempts bounds retries for one search page.
	maxSearchAttempts = 4
	// backoffBase is the first retry delay; it doubles per attempt.
	backoffBase = 2 * time.Second
	// pageDelay spaces out successive search pages.
	pageDelay = 500 * time.Millisecond
	// minPageSize is the floor the page size degrades to when the
	// remaining hourly budget runs low.
	minPageSize = 10
)

// Result summarizes one crawl run.
type Result struct {
	TotalFound     int           `json:"total_found"`
	NewServers     int           `json:"new_servers"`
	UpdatedServers int           `json:"updated_servers"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"-"`
	DurationSec    float64       `json:"duration_sec"`
}

// Crawler discovers tool servers on GitHub and upserts them into the
// registry. It never probes discovered targets; liveness is the prober's
// job and requires owner opt-in.
type Crawler struct {
	client      *Client
	store       *registry.Store
	queries     []string
	maxServers  int
	pageSize    int
	budgetFloor int
	toolType    models.ToolType
}

// New constructs a Crawler from config.
func New(store *registry.Store, cfg config.GitHubConfig) *Crawler {
	return &Crawler{
		client:      NewClient(cfg.APIURL, cfg.Tokens, 30*time.Second),
		store:       store,
		queries:     cfg.SearchQueries,
		maxServers:  cfg.MaxServers,
		pageSize:    cfg.PageSize,
		budgetFloor: cfg.BudgetFloor,
		toolType:    models.ToolTypeMCP,
	}
}

// Run executes one crawl: search, dedup by repository URL, and upsert.
// Individual candidate failures are logged and skipped; only registry
// connectivity failures abort the run.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	if c == nil || c.store == nil {
		return nil, errors.New("crawler: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	discovered := make(map[string]Repo)
	pageSize := c.pageSize

	for _, query := range c.queries {
		if ctx.Err() != nil {
			break
		}
		if len(discovered) >= c.maxServers {
			break
		}
		pageSize = c.collectQuery(ctx, query, pageSize, discovered)
	}

	result := &Result{TotalFound: len(discovered)}
	processed := 0
	for _, repo := range discovered {
		if ctx.Err() != nil {
			break
		}
		if processed >= c.maxServers {
			break
		}
		processed++

		created, errUpsert := c.store.Upsert(ctx, c.normalize(repo, time.Now().UTC()))
		if errUpsert != nil {
			log.WithError(errUpsert).Warnf("crawler: upsert skipped (repo=%s)", repo.URL)
			result.Skipped++
			continue
		}
		if created {
			result.NewServers++
		} else {
			result.UpdatedServers++
		}
	}

	result.Duration = time.Since(start)
	result.DurationSec = result.Duration.Seconds()
	log.Infof("crawler: run done found=%d new=%d updated=%d skipped=%d (%.2fs)",
		result.TotalFound, result.NewServers, result.UpdatedServers, result.Skipped, result.DurationSec)
	return result, nil
}

// collectQuery pages through one search term, accumulating unique repos.
// It returns the (possibly degraded) page size for subsequent queries.
func (c *Crawler) collectQuery(ctx context.Context, query string, pageSize int, discovered map[string]Repo) int {
	after := ""
	for {
		if ctx.Err() != nil || len(discovered) >= c.maxServers {
			return pageSize
		}

		page, errSearch := c.searchWithBackoff(ctx, query, pageSize, after)
		if errSearch != nil {
			log.WithError(errSearch).Warnf("crawler: query abandoned (query=%q)", query)
			return pageSize
		}

		for _, repo := range page.Repos {
			if _, dup := discovered[repo.URL]; !dup {
				discovered[repo.URL] = repo
			}
		}

		if page.Remaining >= 0 && page.Remaining < c.budgetFloor && pageSize > minPageSize {
			pageSize = max(minPageSize, pageSize/2)
			log.Warnf("crawler: hourly budget low (remaining=%d), page size reduced to %d", page.Remaining, pageSize)
		}

		if !page.HasNextPage || len(discovered) >= c.maxServers {
			return pageSize
		}
		after = page.EndCursor

		if errSleep := sleepCtx(ctx, pageDelay); errSleep != nil {
			return pageSize
		}
	}
}

// searchWithBackoff retries one search page with exponential backoff,
// rotating tokens when the platform signals rate limiting.
func (c *Crawler) searchWithBackoff(ctx context.Context, query string, first int, after string) (*SearchPage, error) {
	var lastErr error
	delay := backoffBase
	for attempt := 0; attempt < maxSearchAttempts; attempt++ {
		if attempt > 0 {
			if errSleep := sleepCtx(ctx, delay); errSleep != nil {
				return nil, errSleep
			}
			delay *= 2
		}

		page, errSearch := c.client.SearchPage(ctx, query, first, after)
		if errSearch == nil {
			return page, nil
		}
		lastErr = errSearch
		if errors.Is(errSearch, context.Canceled) || errors.Is(errSearch, context.DeadlineExceeded) {
			return nil, errSearch
		}
		if errors.Is(errSearch, ErrRateLimited) {
			c.client.RotateToken()
			log.Warnf("crawler: rate limited, rotating token (query=%q attempt=%d)", query, attempt+1)
			continue
		}
		log.WithError(errSearch).Warnf("crawler: search failed (query=%q attempt=%d)", query, attempt+1)
	}
	return nil, fmt.Errorf("crawler: search exhausted retries: %w", lastErr)
}

// normalize converts a search result into a registry upsert. Only the
// owner login is kept; no contributor contact data exists on the Repo at
// this point by construction.
func (c *Crawler) normalize(repo Repo, now time.Time) registry.UpsertInput {
	return registry.UpsertInput{
		RepoURL:       repo.URL,
		Name:          repo.Name,
		Owner:         repo.Owner,
		RepoName:      repo.Name,
		Description:   repo.Description,
		Category:      ClassifyCategory(repo.Topics, repo.Name, repo.Description),
		Topics:        repo.Topics,
		ReadmeSummary: SummarizeReadme(repo.ReadmeText),
		ToolType:      c.toolType,
		Stars:         repo.Stars,
		ForkCount:     repo.ForkCount,
		OpenIssues:    repo.OpenIssues,
		PushedAt:      repo.PushedAt,
		RepoCreatedAt: repo.CreatedAt,
		IsActive:      !repo.IsArchived,
		CrawledAt:     now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
