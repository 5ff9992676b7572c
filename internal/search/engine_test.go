package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat/internal/crawler"
	"ollama-chat/internal/searxng"
)

type fakeSearcher struct {
	hits []searxng.Result
	err  error
}

func (f fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]searxng.Result, error) {
	return f.hits, f.err
}

type fakeFetcher map[string]crawler.Page

func (f fakeFetcher) Fetch(ctx context.Context, urls []string) []crawler.Page {
	pages := make([]crawler.Page, len(urls))
	for i, u := range urls {
		pages[i] = f[u]
		pages[i].URL = u
	}
	return pages
}

func TestSearchMergesPagesAndSnippets(t *testing.T) {
	hits := []searxng.Result{
		{Title: "A", URL: "https://a.example", Content: "snippet a"},
		{Title: "B", URL: "https://b.example", Content: "snippet b"},
		{Title: "A again", URL: "https://a.example"},
		{Title: "C", URL: "https://c.example"},
	}
	pages := fakeFetcher{
		"https://a.example": {StatusCode: 200, Title: "A page", Content: "full a"},
		"https://b.example": {StatusCode: 403, Err: errors.New("HTTP 403")},
		"https://c.example": {Err: errors.New("timeout")},
	}

	out, err := NewEngine(fakeSearcher{hits: hits}, pages).Search(context.Background(), "q", 5)
	require.NoError(t, err)

	assert.Equal(t, []Result{
		{Title: "A page", URL: "https://a.example", Text: "full a"},
		{Title: "B", URL: "https://b.example", Text: "snippet b"},
	}, out.Results)
	assert.Equal(t, []string{
		"[200] https://a.example",
		"[403] https://b.example",
		"[failed] https://c.example (timeout)",
	}, out.Notifications)
}

func TestSearchNoResults(t *testing.T) {
	_, err := NewEngine(fakeSearcher{}, fakeFetcher{}).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrNoResults)

	boom := errors.New("searxng down")
	_, err = NewEngine(fakeSearcher{err: boom}, fakeFetcher{}).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, boom)
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]Result{
		{Title: "Weather", URL: "https://w.example", Text: "Sunny"},
		{URL: "https://x.example", Text: "text"},
	})
	assert.Equal(t,
		"Source [1]: Weather\nURL: https://w.example\nContent: Sunny\n\n"+
			"Source [2]: No Title\nURL: https://x.example\nContent: text\n\n",
		got)
}

func TestNoticeIncludesFetchTime(t *testing.T) {
	assert.Equal(t, "[200] https://a.example in 340ms",
		notice(crawler.Page{URL: "https://a.example", StatusCode: 200, Duration: 340123 * time.Microsecond}))
	assert.Equal(t, "[failed] https://b.example (timeout) in 8s",
		notice(crawler.Page{URL: "https://b.example", Err: errors.New("timeout"), Duration: 8 * time.Second}))
	assert.Equal(t, "[404] https://c.example",
		notice(crawler.Page{URL: "https://c.example", StatusCode: 404, Err: errors.New("HTTP 404")}))
}
