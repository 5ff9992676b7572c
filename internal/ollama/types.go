package ollama

import "time"

// ChatRequest represents a chat request to Ollama
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Think     *bool     `json:"think,omitempty"`
	Format    string    `json:"format,omitempty"` // "json" constrains the reply to a JSON object
	Options   *Options  `json:"options,omitempty"`
	KeepAlive string    `json:"keep_alive,omitempty"`
}

// Options carries model runtime parameters
type Options struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

// Message represents a chat message
type Message struct {
	Role     string `json:"role"` // "user", "assistant", or "system"
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"` // For reasoning models like deepseek-r1
}

// ChatResponse represents a response or streaming chunk from Ollama
type ChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}

// generateRequest loads or unloads a model when sent without a prompt
type generateRequest struct {
	Model     string   `json:"model"`
	KeepAlive string   `json:"keep_alive"`
	Options   *Options `json:"options,omitempty"`
}

// Settings are the per-model options sent with every request
type Settings struct {
	Model     string
	Think     bool
	NumCtx    int
	KeepAlive time.Duration
}

// Request builds a chat request for msgs using these settings
func (s Settings) Request(msgs []Message) ChatRequest {
	think := s.Think
	req := ChatRequest{
		Model:     s.Model,
		Messages:  msgs,
		Think:     &think,
		KeepAlive: keepAlive(s.KeepAlive),
	}
	if s.NumCtx > 0 {
		req.Options = &Options{NumCtx: s.NumCtx}
	}
	return req
}

func keepAlive(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.String()
}
