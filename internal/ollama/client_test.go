package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat/internal/stream"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestStreamYieldsThinkingAndContent(t *testing.T) {
	var got ChatRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		lines := []string{
			`{"message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`,
			``,
			`not json`,
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})

	settings := Settings{Model: "qwen3:8b", Think: true, NumCtx: 16384, KeepAlive: time.Minute}
	s, err := c.Stream(context.Background(), settings.Request([]Message{{Role: "user", Content: "hi"}}))
	require.NoError(t, err)
	defer s.Close()

	res, err := stream.NewAggregator(0, nil).Consume(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, stream.Result{Reasoning: "hmm", Content: "Hello"}, res)

	assert.True(t, got.Stream)
	require.NotNil(t, got.Think)
	assert.True(t, *got.Think)
	assert.Equal(t, "1m0s", got.KeepAlive)
	require.NotNil(t, got.Options)
	assert.Equal(t, 16384, got.Options.NumCtx)
}

func TestStreamThinkingUnsupported(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"\"llama3:8b\" does not support thinking"}`)
	})

	_, err := c.Stream(context.Background(), ChatRequest{Model: "llama3:8b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThinkingUnsupported)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestOtherStatusIsNotCapabilityError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"out of memory"}`)
	})

	_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrThinkingUnsupported)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestStreamErrorChunk(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	})

	s, err := c.Stream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer s.Close()

	res, err := stream.NewAggregator(0, nil).Consume(context.Background(), s)
	assert.EqualError(t, err, "model crashed")
	assert.Equal(t, "par", res.Content)
}

func TestCompleteJSON(t *testing.T) {
	var got ChatRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"message":{"role":"assistant","content":"{\"needs_search\":false,\"search_term\":\"\"}"},"done":true}`)
	})

	req := ChatRequest{Model: "m", Format: "json"}
	msg, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"needs_search":false,"search_term":""}`, msg.Content)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Nil(t, got.Think)
}

func TestVerifyModels(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		io.WriteString(w, `{"models":[{"name":"qwen3:8b"},{"name":"llama3:latest"}]}`)
	})

	_, err := c.VerifyModels(context.Background(), "qwen3:8b", "llama3", "qwen3:8b")
	assert.NoError(t, err)

	_, err = c.VerifyModels(context.Background(), "qwen3:8b", "gemma3:4b")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Contains(t, err.Error(), "gemma3:4b")
}

func TestHealthCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second).HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestWarmAndUnload(t *testing.T) {
	var reqs []generateRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var g generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&g))
		reqs = append(reqs, g)
		io.WriteString(w, `{"done":true}`)
	})

	require.NoError(t, c.Warm(context.Background(), Settings{Model: "m", KeepAlive: time.Minute, NumCtx: 2048}))
	require.NoError(t, c.Unload(context.Background(), "m"))

	require.Len(t, reqs, 2)
	assert.Equal(t, "1m0s", reqs[0].KeepAlive)
	assert.Equal(t, 2048, reqs[0].Options.NumCtx)
	assert.Equal(t, "0s", reqs[1].KeepAlive)
}
