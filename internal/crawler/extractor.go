package crawler

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skipped elements carry no readable page text
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true, "footer": true,
	"header": true, "aside": true, "form": true, "svg": true, "title": true,
}

// ExtractText returns the page title and up to maxWords words of body text
func ExtractText(htmlContent []byte, maxWords int) (title string, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	if t := findElement(doc, "title"); t != nil {
		var sb strings.Builder
		collectText(t, &sb, false)
		title = cleanText(sb.String())
	}

	var body strings.Builder
	collectText(doc, &body, true)

	return title, truncateWords(cleanText(body.String()), maxWords), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// collectText appends every text node under n to sb
func collectText(n *html.Node, sb *strings.Builder, skip bool) {
	if skip && n.Type == html.ElementNode && skipped[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb, skip)
	}
}

// cleanText collapses runs of whitespace
func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords <= 0 || len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// ReadLimitedBody reads up to maxBytes from a reader
func ReadLimitedBody(body io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(body)
	}
	return io.ReadAll(io.LimitReader(body, maxBytes))
}
