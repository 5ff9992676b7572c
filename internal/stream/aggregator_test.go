package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeSeparatesChannels(t *testing.T) {
	agg := NewAggregator(time.Millisecond, nil)

	res, err := agg.Consume(context.Background(), FromSlice(
		Chunk{Content: "Hel"},
		Chunk{Reasoning: "thinking"},
		Chunk{Content: "lo"},
	))

	require.NoError(t, err)
	assert.Equal(t, Result{Reasoning: "thinking", Content: "Hello"}, res)
}

func TestConsumeSkipsEmptyChunks(t *testing.T) {
	var snaps []Snapshot
	agg := NewAggregator(time.Nanosecond, func(s Snapshot) { snaps = append(snaps, s) })

	res, err := agg.Consume(context.Background(), FromSlice(
		Chunk{},
		Chunk{Content: "a"},
		Chunk{},
		Chunk{Reasoning: "r", Content: "b"},
		Chunk{},
	))

	require.NoError(t, err)
	assert.Equal(t, Result{Reasoning: "r", Content: "ab"}, res)
	for _, s := range snaps {
		assert.NotEqual(t, Snapshot{}, s)
	}
	assert.Equal(t, Snapshot{Reasoning: "r", Content: "ab"}, snaps[len(snaps)-1])
}

func TestConsumeBoundsProgressRate(t *testing.T) {
	var snaps []Snapshot
	agg := NewAggregator(time.Second, func(s Snapshot) { snaps = append(snaps, s) })

	// clock advances 100ms per call
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.now = func() time.Time {
		clock = clock.Add(100 * time.Millisecond)
		return clock
	}

	chunks := make([]Chunk, 50)
	for i := range chunks {
		chunks[i] = Chunk{Content: "x"}
	}

	res, err := agg.Consume(context.Background(), FromSlice(chunks...))
	require.NoError(t, err)
	assert.Len(t, res.Content, 50)

	// Far fewer snapshots than chunks, and the last one is complete.
	assert.Less(t, len(snaps), 15)
	assert.GreaterOrEqual(t, len(snaps), 2)
	assert.Equal(t, res.Content, snaps[len(snaps)-1].Content)
}

func TestConsumeNoOutputNoProgress(t *testing.T) {
	calls := 0
	agg := NewAggregator(0, func(Snapshot) { calls++ })

	res, err := agg.Consume(context.Background(), FromSlice())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, calls)
}

type failingSource struct {
	chunks []Chunk
	err    error
}

func (f *failingSource) Next() (Chunk, error) {
	if len(f.chunks) == 0 {
		return Chunk{}, f.err
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return c, nil
}

func TestConsumeReturnsPartialOnError(t *testing.T) {
	boom := errors.New("connection reset")
	agg := NewAggregator(0, nil)

	res, err := agg.Consume(context.Background(), &failingSource{
		chunks: []Chunk{{Content: "partial"}},
		err:    boom,
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", res.Content)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAggregator(0, nil).Consume(ctx, FromSlice(Chunk{Content: "never"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceSourceEOF(t *testing.T) {
	src := FromSlice(Chunk{Content: "one"})
	_, err := src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
