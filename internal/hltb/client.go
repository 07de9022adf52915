// Package hltb looks up game completion times on howlongtobeat.com.
package hltb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public site.
	DefaultBaseURL = "https://howlongtobeat.com"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Result is one search hit.
type Result struct {
	GameID       int `json:"game_id"`
	ProfileSteam int `json:"profile_steam"`
}

// SearchResponse is the body returned by the search endpoint.
type SearchResponse struct {
	Data []Result `json:"data"`
}

// Category is one completion-time bucket of a game page.
type Category struct {
	Title    string `json:"title"`
	Duration string `json:"duration"`
	Accuracy string `json:"accuracy"`
}

// Client talks to the lookup service. Requests are paced by a token
// bucket.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for baseURL allowing perSecond requests per
// second. A non-positive rate disables pacing.
func NewClient(baseURL string, perSecond float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type searchRequest struct {
	SearchType  string   `json:"searchType"`
	SearchTerms []string `json:"searchTerms"`
	SearchPage  int      `json:"searchPage"`
	Size        int      `json:"size"`
}

// Search finds games matching name.
func (c *Client) Search(ctx context.Context, name string) (*SearchResponse, error) {
	body, err := json.Marshal(searchRequest{
		SearchType:  "games",
		SearchTerms: strings.Split(FormatName(name), " "),
		SearchPage:  1,
		Size:        100,
	})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var resp SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &resp, nil
}

// Game fetches the completion categories of one game.
func (c *Client) Game(ctx context.Context, id string) ([]Category, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/game/"+id, nil)
	if err != nil {
		return nil, err
	}
	return ParseCategories(bytes.NewReader(data))
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var (
	nonWord    = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// FormatName normalises a game title for searching: lower case, no
// punctuation, single spaces.
func FormatName(name string) string {
	name = strings.ToLower(name)
	name = nonWord.ReplaceAllString(name, " ")
	name = whitespace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
