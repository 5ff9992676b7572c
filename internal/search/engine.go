// Package search answers a text query with extracted page content from the web.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ollama-chat/internal/crawler"
	"ollama-chat/internal/searxng"
)

// Result is one source used to answer a query
type Result struct {
	Title string
	URL   string
	Text  string
}

// Outcome is everything a search produced, including per-source fetch notices
type Outcome struct {
	Results       []Result
	Notifications []string
}

// ErrNoResults means the search engine returned nothing usable
var ErrNoResults = errors.New("no search results found")

// Searcher lists result URLs for a query
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]searxng.Result, error)
}

// Fetcher downloads and extracts pages
type Fetcher interface {
	Fetch(ctx context.Context, urls []string) []crawler.Page
}

// Engine combines a search backend with a page fetcher
type Engine struct {
	searcher Searcher
	fetcher  Fetcher
}

// NewEngine creates a search engine
func NewEngine(searcher Searcher, fetcher Fetcher) *Engine {
	return &Engine{searcher: searcher, fetcher: fetcher}
}

// Search runs query and fetches up to count result pages. A page that cannot
// be fetched falls back to the search snippet and still yields a notification.
func (e *Engine) Search(ctx context.Context, query string, count int) (Outcome, error) {
	hits, err := e.searcher.Search(ctx, query, count)
	if err != nil {
		return Outcome{}, err
	}
	if len(hits) == 0 {
		return Outcome{}, ErrNoResults
	}

	urls := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	unique := hits[:0:0]
	for _, h := range hits {
		if seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		urls = append(urls, h.URL)
		unique = append(unique, h)
	}

	pages := e.fetcher.Fetch(ctx, urls)

	var out Outcome
	for i, h := range unique {
		res := Result{Title: h.Title, URL: h.URL, Text: h.Content}
		if i < len(pages) {
			p := pages[i]
			out.Notifications = append(out.Notifications, notice(p))
			if p.Err == nil && p.Content != "" {
				res.Text = p.Content
				if p.Title != "" {
					res.Title = p.Title
				}
			}
		}
		if res.Text == "" {
			continue
		}
		out.Results = append(out.Results, res)
	}

	if len(out.Results) == 0 {
		return out, ErrNoResults
	}
	return out, nil
}

// notice reports one fetch, with its duration when known
func notice(p crawler.Page) string {
	var n string
	if p.Err != nil && p.StatusCode == 0 {
		n = fmt.Sprintf("[failed] %s (%v)", p.URL, p.Err)
	} else {
		n = fmt.Sprintf("[%d] %s", p.StatusCode, p.URL)
	}
	if p.Duration > 0 {
		n += " in " + p.Duration.Round(time.Millisecond).String()
	}
	return n
}

// FormatContext renders results as the text block injected into model context
func FormatContext(results []Result) string {
	var sb strings.Builder
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No Title"
		}
		fmt.Fprintf(&sb, "Source [%d]: %s\nURL: %s\nContent: %s\n\n", i+1, title, r.URL, r.Text)
	}
	return sb.String()
}
