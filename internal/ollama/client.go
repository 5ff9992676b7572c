package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ollama-chat/internal/stream"
)

// Client handles communication with Ollama
type Client struct {
	baseURL         string
	httpClient      *http.Client
	streamingClient *http.Client
}

// NewClient creates a new Ollama client. timeout applies to non-streaming
// calls only; streams run until the server finishes or ctx is cancelled.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamingClient: &http.Client{},
	}
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// Complete sends a non-streaming chat request and returns the reply message
func (c *Client) Complete(ctx context.Context, req ChatRequest) (Message, error) {
	req.Stream = false

	resp, err := c.post(ctx, c.httpClient, "/api/chat", req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Message{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != "" {
		return Message{}, errors.New(chatResp.Error)
	}

	return chatResp.Message, nil
}

// Stream starts a streaming chat request. The returned stream must be closed.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (stream.ReadCloser, error) {
	req.Stream = true

	resp, err := c.post(ctx, c.streamingClient, "/api/chat", req)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &ChatStream{body: resp.Body, scanner: scanner}, nil
}

// ChatStream reads newline-delimited chat chunks
type ChatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next chunk, or io.EOF once the server reports done
func (s *ChatStream) Next() (stream.Chunk, error) {
	for !s.done && s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}
		if chunk.Error != "" {
			return stream.Chunk{}, errors.New(chunk.Error)
		}

		s.done = chunk.Done
		out := stream.Chunk{
			Reasoning: chunk.Message.Thinking,
			Content:   chunk.Message.Content,
		}
		if out.Reasoning == "" && out.Content == "" && s.done {
			break
		}
		return out, nil
	}

	if err := s.scanner.Err(); err != nil {
		return stream.Chunk{}, fmt.Errorf("scanner error: %w", err)
	}
	return stream.Chunk{}, io.EOF
}

// Close releases the response body
func (s *ChatStream) Close() error {
	return s.body.Close()
}

// HealthCheck verifies that Ollama is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s. Is the service running? (%v)", ErrUnreachable, c.baseURL, err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// ListModels returns the names of installed models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrUnreachable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// VerifyModels checks that every named model is installed. The returned
// error wraps ErrModelNotFound and names each missing model.
func (c *Client) VerifyModels(ctx context.Context, names ...string) ([]string, error) {
	installed, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(installed))
	for _, m := range installed {
		have[m] = true
		// "llama3" is served as "llama3:latest"
		have[strings.TrimSuffix(m, ":latest")] = true
	}

	var missing []string
	seen := map[string]bool{}
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if !have[n] {
			missing = append(missing, n)
		}
	}

	if len(missing) > 0 {
		return installed, fmt.Errorf("%w: %s", ErrModelNotFound, strings.Join(missing, ", "))
	}
	return installed, nil
}

// Warm loads a model into memory without generating anything
func (c *Client) Warm(ctx context.Context, s Settings) error {
	req := generateRequest{Model: s.Model, KeepAlive: keepAlive(s.KeepAlive)}
	if s.NumCtx > 0 {
		req.Options = &Options{NumCtx: s.NumCtx}
	}
	return c.generate(ctx, req)
}

// Unload evicts a model from memory
func (c *Client) Unload(ctx context.Context, model string) error {
	return c.generate(ctx, generateRequest{Model: model, KeepAlive: keepAlive(0)})
}

func (c *Client) generate(ctx context.Context, req generateRequest) error {
	resp, err := c.post(ctx, c.streamingClient, "/api/generate", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
