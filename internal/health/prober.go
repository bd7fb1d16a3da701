package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/registry"
	log "github.com/sirupsen/logrus"
)

// UserAgent is the fixed client identifier sent with every probe so target
// operators can recognize and block the prober.
const UserAgent = "MCPHubBot/1.0 (+https://mcphub.dev/bot)"

// errorMessageMaxLen caps persisted error text.
const errorMessageMaxLen = 200

// Result summarizes one probe cycle.
type Result struct {
	Checked int `json:"checked"`
	Up      int `json:"up"`
	Down    int `json:"down"`
	Skipped int `json:"skipped"`
}

// Prober issues bounded-concurrency liveness probes against opted-in
// servers and appends the outcomes to the health history.
type Prober struct {
	store       *registry.Store
	client      *http.Client
	robots      *robotsCache
	concurrency int
	timeout     time.Duration
}

// NewProber constructs a Prober.
func NewProber(store *registry.Store, concurrency int, timeout time.Duration) *Prober {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return &Prober{
		store:       store,
		client:      client,
		robots:      newRobotsCache(client, UserAgent),
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// Run executes one probe cycle over all opted-in active servers. Each
// server's failure is isolated; only the initial target listing can fail
// the cycle. Cancellation stops new probes while in-flight ones finish or
// time out on their own.
func (p *Prober) Run(ctx context.Context) (*Result, error) {
	if p == nil || p.store == nil {
		return nil, errors.New("health: prober not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	targets, errList := p.store.ListProbeTargets(ctx)
	if errList != nil {
		return nil, errList
	}
	if len(targets) == 0 {
		return &Result{}, nil
	}

	// Guard against probing one source URL twice within the cycle.
	seen := make(map[string]struct{}, len(targets))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := &Result{}

	for _, target := range targets {
		if _, dup := seen[target.RepoURL]; dup {
			continue
		}
		seen[target.RepoURL] = struct{}{}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return result, nil
		}

		wg.Add(1)
		targetCopy := target
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rec, skipped := p.probeOne(ctx, targetCopy)
			if skipped {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return
			}
			if errAppend := p.store.AppendHealthCheck(ctx, rec); errAppend != nil {
				log.WithError(errAppend).Warnf("health: record failed (server=%s)", targetCopy.ID)
				return
			}
			mu.Lock()
			result.Checked++
			switch rec.Status {
			case models.HealthStatusUp:
				result.Up++
			case models.HealthStatusDown:
				result.Down++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	log.Infof("health: cycle done checked=%d up=%d down=%d skipped=%d",
		result.Checked, result.Up, result.Down, result.Skipped)
	return result, nil
}

// probeOne performs one liveness probe. It returns skipped=true when the
// target's robots.txt declines our agent; no record is written in that
// case, leaving the status unknown via absence.
func (p *Prober) probeOne(ctx context.Context, target registry.ProbeTarget) (*models.HealthCheck, bool) {
	parsed, errParse := url.Parse(target.RepoURL)
	if errParse != nil || parsed.Host == "" {
		return &models.HealthCheck{
			ServerID:     target.ID,
			Status:       models.HealthStatusDown,
			ErrorMessage: errText(fmt.Sprintf("invalid url: %v", errParse)),
			CheckedAt:    time.Now().UTC(),
		}, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if !p.robots.Allowed(probeCtx, parsed) {
		log.Debugf("health: robots.txt declined probe (server=%s host=%s)", target.ID, parsed.Host)
		return nil, true
	}

	start := time.Now()
	status, httpStatus, errMsg := p.request(probeCtx, target.RepoURL)
	elapsed := int(time.Since(start).Milliseconds())

	rec := &models.HealthCheck{
		ServerID:  target.ID,
		Status:    status,
		CheckedAt: time.Now().UTC(),
	}
	if httpStatus != nil {
		rec.HTTPStatus = httpStatus
		rec.ResponseTimeMs = &elapsed
	}
	if errMsg != "" {
		rec.ErrorMessage = errText(errMsg)
	}
	return rec, false
}

// request issues a HEAD probe, falling back to a minimal GET when the
// target does not implement HEAD.
func (p *Prober) request(ctx context.Context, rawURL string) (status string, httpStatus *int, errMsg string) {
	resp, errHead := p.do(ctx, http.MethodHead, rawURL)
	if errHead != nil {
		return models.HealthStatusDown, nil, probeErrorText(errHead)
	}
	if resp == http.StatusMethodNotAllowed || resp == http.StatusNotImplemented {
		respGet, errGet := p.do(ctx, http.MethodGet, rawURL)
		if errGet != nil {
			return models.HealthStatusDown, nil, probeErrorText(errGet)
		}
		resp = respGet
	}

	code := resp
	if code < 400 {
		return models.HealthStatusUp, &code, ""
	}
	return models.HealthStatusDown, &code, fmt.Sprintf("unexpected status: %d", code)
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (int, error) {
	req, errReq := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if errReq != nil {
		return 0, errReq
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return 0, errDo
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// probeErrorText normalizes transport failures into stored error text.
func probeErrorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

func errText(msg string) *string {
	if len(msg) > errorMessageMaxLen {
		msg = msg[:errorMessageMaxLen]
	}
	return &msg
}
