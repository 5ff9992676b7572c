package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Page is the outcome of fetching a single URL
type Page struct {
	URL        string
	Title      string
	Content    string
	StatusCode int // zero when no response was received
	Err        error
	Duration   time.Duration
}

// Crawler fetches pages with a bounded worker pool
type Crawler struct {
	httpClient *http.Client
	maxSize    int64
	maxWords   int
	userAgent  string
	maxWorkers int
}

// NewCrawler creates a crawler. timeout bounds each page fetch on its own.
func NewCrawler(timeout time.Duration, maxWorkers int, maxSize int64, userAgent string) *Crawler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Crawler{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxSize:    maxSize,
		maxWords:   500,
		userAgent:  userAgent,
		maxWorkers: maxWorkers,
	}
}

// Fetch crawls urls in parallel. Pages come back in the order of urls.
func (c *Crawler) Fetch(ctx context.Context, urls []string) []Page {
	pages := make([]Page, len(urls))
	if len(urls) == 0 {
		return pages
	}

	jobs := make(chan int, len(urls))
	for i := range urls {
		jobs <- i
	}
	close(jobs)

	numWorkers := c.maxWorkers
	if len(urls) < numWorkers {
		numWorkers = len(urls)
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				pages[i] = c.fetchOne(ctx, urls[i])
			}
		}()
	}
	wg.Wait()

	return pages
}

func (c *Crawler) fetchOne(ctx context.Context, urlStr string) Page {
	start := time.Now()
	page := Page{URL: urlStr}
	fail := func(err error) Page {
		page.Err = err
		page.Duration = time.Since(start)
		return page
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	page.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return fail(fmt.Errorf("non-HTML content type: %s", contentType))
	}

	body, err := ReadLimitedBody(resp.Body, c.maxSize)
	if err != nil {
		return fail(fmt.Errorf("failed to read body: %w", err))
	}

	title, text, err := ExtractText(body, c.maxWords)
	if err != nil {
		return fail(fmt.Errorf("failed to extract text: %w", err))
	}

	page.Title = title
	page.Content = text
	page.Duration = time.Since(start)
	return page
}
