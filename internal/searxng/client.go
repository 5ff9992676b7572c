package searxng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrJSONDisabled means the instance refuses format=json. SearXNG ships
// with only the html format enabled.
var ErrJSONDisabled = errors.New("SearXNG JSON API may not be enabled, add json to search.formats in settings.yml")

// Client queries a SearXNG instance's JSON API
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a new SearXNG client
func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// query sends one search and returns the open response. Callers close the
// body.
func (c *Client) query(ctx context.Context, q string) (*http.Response, error) {
	endpoint := c.baseURL + "/search?" + url.Values{"q": {q}, "format": {"json"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SearXNG is unreachable at %s: %w", c.baseURL, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrJSONDisabled
	}
	return resp, nil
}

// Search returns up to maxResults hits for query, best scored first. Hits
// without a URL are dropped.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	resp, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("SearXNG returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	hits := payload.Results[:0]
	for _, r := range payload.Results {
		if r.URL != "" {
			hits = append(hits, r)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

// HealthCheck runs a throwaway query. Anything short of a server error or a
// disabled JSON API counts as healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.query(ctx, "test")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("SearXNG returned server error: %d", resp.StatusCode)
	}
	return nil
}
