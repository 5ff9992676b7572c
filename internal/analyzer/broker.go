package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ollama-chat/internal/ollama"
)

// Completer makes a single non-streaming model call
type Completer interface {
	Complete(ctx context.Context, req ollama.ChatRequest) (ollama.Message, error)
}

// Decision is the classifier's verdict for one user turn
type Decision struct {
	NeedsSearch bool   `json:"needs_search"`
	SearchTerm  string `json:"search_term"`
}

// ErrClassifierUnavailable means the classifier call failed even after the
// thinking fallback. Callers proceed without search.
var ErrClassifierUnavailable = errors.New("search classifier unavailable")

const instructions = `You are a search decision system. Decide whether answering the user's latest query requires a live web search.

Respond ONLY with valid JSON in this exact format:
{"needs_search": true/false, "search_term": "query"}

Guidelines:
- needs_search=true for: current events, recent news, prices, weather, schedules, facts that change over time
- needs_search=false for: coding help, explanations, math, creative writing, general knowledge, small talk
- Use the conversation so far to resolve references like "it" or "there" in the latest query
- If needs_search=true, search_term is a concise web query (2-6 words); otherwise use ""

Respond with JSON only, no other text.`

// Broker asks a classifier model whether a turn needs a web search
type Broker struct {
	client   Completer
	settings ollama.Settings
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewBroker creates a broker using the given classifier model settings
func NewBroker(client Completer, settings ollama.Settings, log logrus.FieldLogger) *Broker {
	return &Broker{
		client:   client,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// Thinking reports whether the classifier is still asked to think
func (b *Broker) Thinking() bool {
	return b.settings.Think
}

// Decide classifies the latest message of history. Malformed classifier
// output degrades to no search with a nil error; only a failed call returns
// an error.
func (b *Broker) Decide(ctx context.Context, history []ollama.Message, profile string) (Decision, error) {
	if len(history) == 0 {
		return Decision{}, nil
	}
	query := history[len(history)-1].Content
	msgs := b.buildPrompt(history, profile)

	reply, err := b.client.Complete(ctx, b.request(msgs))
	if errors.Is(err, ollama.ErrThinkingUnsupported) && b.settings.Think {
		b.log.WithField("model", b.settings.Model).Warn("classifier does not support thinking, retrying without it")
		b.settings.Think = false
		reply, err = b.client.Complete(ctx, b.request(msgs))
	}
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	decision, ok := parseDecision(reply.Content)
	if !ok {
		b.log.WithField("response", truncate(reply.Content, 200)).Warn("malformed classifier output, skipping search")
		return Decision{}, nil
	}

	if decision.NeedsSearch && strings.TrimSpace(decision.SearchTerm) == "" {
		// Fallback to original
		decision.SearchTerm = query
	}
	return decision, nil
}

func (b *Broker) request(msgs []ollama.Message) ollama.ChatRequest {
	req := b.settings.Request(msgs)
	req.Format = "json"
	return req
}

// buildPrompt swaps the system message for the classifier instructions and
// wraps the final message with the date and profile context.
func (b *Broker) buildPrompt(history []ollama.Message, profile string) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+1)
	msgs = append(msgs, ollama.Message{Role: "system", Content: instructions})

	for i, m := range history {
		if m.Role == "system" {
			continue
		}
		if i == len(history)-1 {
			break
		}
		msgs = append(msgs, ollama.Message{Role: m.Role, Content: m.Content})
	}

	var sb strings.Builder
	sb.WriteString("LATEST USER QUERY: ")
	sb.WriteString(history[len(history)-1].Content)
	sb.WriteString("\nCURRENT DATE: ")
	sb.WriteString(b.now().Format("2006-01-02"))
	if p := strings.TrimSpace(profile); p != "" {
		sb.WriteString("\nUSER DATA: ")
		sb.WriteString(p)
	}
	sb.WriteString("\nDecide whether this query needs a web search. Respond with JSON only.")

	return append(msgs, ollama.Message{Role: "user", Content: sb.String()})
}

// parseDecision requires both fields to be present
func parseDecision(response string) (Decision, bool) {
	response = strings.TrimSpace(response)

	// extract JSON if wrapped in markdown
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	var raw struct {
		NeedsSearch *bool   `json:"needs_search"`
		SearchTerm  *string `json:"search_term"`
	}
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return Decision{}, false
	}
	if raw.NeedsSearch == nil || raw.SearchTerm == nil {
		return Decision{}, false
	}

	return Decision{NeedsSearch: *raw.NeedsSearch, SearchTerm: strings.TrimSpace(*raw.SearchTerm)}, true
}

// truncate shortens s to maxLen runes, never splitting a character
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
