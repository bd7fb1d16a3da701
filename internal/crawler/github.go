package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// searchQueryDocument is the GraphQL document used for repository discovery.
// The README blob rides along in the same request, and rateLimit keeps the
// crawler's view of the hourly budget current. Contributor contact fields
// are never requested.
const searchQueryDocument = `
query DiscoverServers($query: String!, $first: Int!, $after: String) {
  rateLimit { remaining resetAt }
  search(query: $query, type: REPOSITORY, first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes {
      ... on Repository {
        name
        url
        description
        stargazerCount
        forkCount
        isArchived
        pushedAt
        createdAt
        owner { login }
        issues(states: OPEN) { totalCount }
        repositoryTopics(first: 20) { nodes { topic { name } } }
        readme: object(expression: "HEAD:README.md") { ... on Blob { text } }
      }
    }
  }
}`

// ErrRateLimited indicates the hosting platform rejected a request for
// budget reasons (HTTP 403/429).
var ErrRateLimited = errors.New("crawler: github rate limited")

// Repo is one normalized search result.
type Repo struct {
	Name        string
	Owner       string
	URL         string
	Description string
	Stars       int
	ForkCount   int
	OpenIssues  int
	IsArchived  bool
	PushedAt    *time.Time
	CreatedAt   *time.Time
	Topics      []string
	ReadmeText  string
}

// SearchPage is one page of search results plus budget bookkeeping.
type SearchPage struct {
	Repos       []Repo
	HasNextPage bool
	EndCursor   string
	// Remaining is the GraphQL budget left in the current hour window, -1
	// when the response did not include it.
	Remaining int
	ResetAt   time.Time
}

// Client talks to the GitHub GraphQL API with token rotation.
type Client struct {
	httpClient *http.Client
	apiURL     string
	tokens     []string
	tokenIndex int
}

// NewClient constructs a GraphQL client. Tokens may be empty for
// unauthenticated (heavily limited) access.
func NewClient(apiURL string, tokens []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		tokens:     tokens,
	}
}

// RotateToken advances to the next configured token, if any.
func (c *Client) RotateToken() {
	if c == nil || len(c.tokens) == 0 {
		return
	}
	c.tokenIndex = (c.tokenIndex + 1) % len(c.tokens)
}

func (c *Client) currentToken() string {
	if c == nil || len(c.tokens) == 0 {
		return ""
	}
	return c.tokens[c.tokenIndex%len(c.tokens)]
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type searchResponse struct {
	Data struct {
		RateLimit *struct {
			Remaining int       `json:"remaining"`
			ResetAt   time.Time `json:"resetAt"`
		} `json:"rateLimit"`
		Search struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []repoNode `json:"nodes"`
		} `json:"search"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type repoNode struct {
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Description    *string    `json:"description"`
	StargazerCount int        `json:"stargazerCount"`
	ForkCount      int        `json:"forkCount"`
	IsArchived     bool       `json:"isArchived"`
	PushedAt       *time.Time `json:"pushedAt"`
	CreatedAt      *time.Time `json:"createdAt"`
	Owner          *struct {
		Login string `json:"login"`
	} `json:"owner"`
	Issues struct {
		TotalCount int `json:"totalCount"`
	} `json:"issues"`
	RepositoryTopics struct {
		Nodes []struct {
			Topic struct {
				Name string `json:"name"`
			} `json:"topic"`
		} `json:"nodes"`
	} `json:"repositoryTopics"`
	Readme *struct {
		Text string `json:"text"`
	} `json:"readme"`
}

// SearchPage runs one page of the discovery search, sorted by stars.
func (c *Client) SearchPage(ctx context.Context, query string, first int, after string) (*SearchPage, error) {
	if c == nil {
		return nil, errors.New("crawler: client not initialized")
	}
	if first <= 0 || first > 100 {
		first = 50
	}

	variables := map[string]any{
		"query": query + " sort:stars-desc",
		"first": first,
	}
	if after != "" {
		variables["after"] = after
	}
	payload, errMarshal := json.Marshal(graphQLRequest{Query: searchQueryDocument, Variables: variables})
	if errMarshal != nil {
		return nil, fmt.Errorf("crawler: marshal request: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if errReq != nil {
		return nil, fmt.Errorf("crawler: new request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("crawler: request failed: %w", errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crawler: github status %d", resp.StatusCode)
	}

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if errRead != nil {
		return nil, fmt.Errorf("crawler: read response: %w", errRead)
	}

	var decoded searchResponse
	if errUnmarshal := json.Unmarshal(body, &decoded); errUnmarshal != nil {
		return nil, fmt.Errorf("crawler: decode response: %w", errUnmarshal)
	}
	if len(decoded.Errors) > 0 {
		msg := decoded.Errors[0].Message
		if strings.Contains(strings.ToUpper(msg), "RATE_LIMITED") {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("crawler: graphql error: %s", msg)
	}

	page := &SearchPage{
		HasNextPage: decoded.Data.Search.PageInfo.HasNextPage,
		EndCursor:   decoded.Data.Search.PageInfo.EndCursor,
		Remaining:   -1,
	}
	if decoded.Data.RateLimit != nil {
		page.Remaining = decoded.Data.RateLimit.Remaining
		page.ResetAt = decoded.Data.RateLimit.ResetAt
	}
	for _, node := range decoded.Data.Search.Nodes {
		repo := Repo{
			Name:       node.Name,
			URL:        node.URL,
			Stars:      node.StargazerCount,
			ForkCount:  node.ForkCount,
			OpenIssues: node.Issues.TotalCount,
			IsArchived: node.IsArchived,
			PushedAt:   node.PushedAt,
			CreatedAt:  node.CreatedAt,
		}
		if node.Description != nil {
			repo.Description = *node.Description
		}
		if node.Owner != nil {
			repo.Owner = node.Owner.Login
		}
		if node.Readme != nil {
			repo.ReadmeText = node.Readme.Text
		}
		for _, topicNode := range node.RepositoryTopics.Nodes {
			if name := strings.TrimSpace(topicNode.Topic.Name); name != "" {
				repo.Topics = append(repo.Topics, name)
			}
		}
		if strings.TrimSpace(node.URL) == "" {
			continue
		}
		page.Repos = append(page.Repos, repo)
	}
	return page, nil
}
