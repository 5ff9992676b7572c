// Package stream assembles incremental model output into a finished reply.
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Chunk is one increment of model output. Either field may be empty.
type Chunk struct {
	Reasoning string
	Content   string
}

// Source yields chunks until it returns io.EOF
type Source interface {
	Next() (Chunk, error)
}

// ReadCloser is a Source backed by a connection that must be released
type ReadCloser interface {
	Source
	io.Closer
}

// Snapshot is the output accumulated so far
type Snapshot struct {
	Reasoning string
	Content   string
}

// Result is the finalized reply of one assistant turn
type Result struct {
	Reasoning string
	Content   string
}

// DefaultInterval bounds progress emission to twelve snapshots per second
const DefaultInterval = time.Second / 12

// Aggregator concatenates chunk deltas and reports progress at a bounded rate
type Aggregator struct {
	interval   time.Duration
	onProgress func(Snapshot)
	now        func() time.Time
}

// NewAggregator creates an aggregator that calls onProgress at most once per
// interval while consuming, and once more when the stream ends.
func NewAggregator(interval time.Duration, onProgress func(Snapshot)) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		interval:   interval,
		onProgress: onProgress,
		now:        time.Now,
	}
}

// Consume drains src. On a read error the text gathered so far is returned
// alongside the error.
func (a *Aggregator) Consume(ctx context.Context, src Source) (Result, error) {
	var reasoning, content strings.Builder
	var lastEmit time.Time
	dirty := false

	emit := func() {
		dirty = false
		lastEmit = a.now()
		if a.onProgress != nil {
			a.onProgress(Snapshot{Reasoning: reasoning.String(), Content: content.String()})
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{Reasoning: reasoning.String(), Content: content.String()}, err
		}

		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{Reasoning: reasoning.String(), Content: content.String()}, err
		}

		if chunk.Reasoning != "" {
			reasoning.WriteString(chunk.Reasoning)
			dirty = true
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			dirty = true
		}

		if dirty && a.now().Sub(lastEmit) >= a.interval {
			emit()
		}
	}

	if dirty {
		emit()
	}

	return Result{Reasoning: reasoning.String(), Content: content.String()}, nil
}

// SliceSource replays a fixed chunk sequence
type SliceSource struct {
	chunks []Chunk
	pos    int
}

// FromSlice returns a Source over chunks
func FromSlice(chunks ...Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

func (s *SliceSource) Next() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}
