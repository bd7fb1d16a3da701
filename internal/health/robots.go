package health

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// robotsCache resolves and caches robots.txt groups per host for the
// duration of one probe cycle.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the target may be probed under the host's
// robots.txt. An unreachable or missing robots.txt permits probing; an
// explicit disallow for our agent declines it.
func (r *robotsCache) Allowed(ctx context.Context, target *url.URL) bool {
	if r == nil || target == nil {
		return true
	}
	group := r.groupForHost(ctx, target)
	if group == nil {
		return true
	}
	path := target.Path
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (r *robotsCache) groupForHost(ctx context.Context, target *url.URL) *robotstxt.Group {
	host := target.Scheme + "://" + target.Host

	r.mu.Lock()
	group, cached := r.groups[host]
	r.mu.Unlock()
	if cached {
		return group
	}

	group = r.fetchGroup(ctx, host)

	r.mu.Lock()
	r.groups[host] = group
	r.mu.Unlock()
	return group
}

func (r *robotsCache) fetchGroup(ctx context.Context, host string) *robotstxt.Group {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if errReq != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, errDo := r.client.Do(req)
	if errDo != nil {
		// Unreachable robots.txt does not block probing; the probe
		// itself will record the host as down if it is unreachable.
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, errParse := robotstxt.FromResponse(resp)
	if errParse != nil {
		log.WithError(errParse).Debugf("health: robots.txt parse failed (host=%s)", host)
		return nil
	}
	return data.FindGroup(r.userAgent)
}
