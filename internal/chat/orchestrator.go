// Package chat runs one user turn at a time against the session store, the
// search classifier, the web search engine and the main model.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ollama-chat/internal/analyzer"
	"ollama-chat/internal/history"
	"ollama-chat/internal/ollama"
	"ollama-chat/internal/search"
	"ollama-chat/internal/stream"
)

// Store is the session persistence the orchestrator drives
type Store interface {
	StartSession(ctx context.Context, active *history.Active, title, system string) (history.SessionID, error)
	AppendMessage(ctx context.Context, active *history.Active, role history.Role, content string, visible bool) (history.Message, error)
	ListSessions(ctx context.Context, limit int) ([]history.SessionHeader, error)
	LoadMessages(ctx context.Context, id history.SessionID) ([]history.Message, error)
	SetActive(ctx context.Context, active *history.Active, id history.SessionID) error
	Delete(ctx context.Context, active *history.Active, sel history.Selector) ([]history.SessionID, error)
}

// Decider classifies whether a turn needs a web search
type Decider interface {
	Decide(ctx context.Context, msgs []ollama.Message, profile string) (analyzer.Decision, error)
}

// Searcher runs a web search
type Searcher interface {
	Search(ctx context.Context, query string, count int) (search.Outcome, error)
}

// Streamer opens a response stream from the main model
type Streamer interface {
	Stream(ctx context.Context, req ollama.ChatRequest) (stream.ReadCloser, error)
}

// Options configures the orchestrator
type Options struct {
	Main             ollama.Settings
	InitialContext   string
	Instructions     string
	Profile          string
	SearchEnabled    bool
	MaxResults       int
	TitleWords       int
	ProgressInterval time.Duration
}

// TurnOutcome summarizes a completed turn
type TurnOutcome struct {
	SessionID     history.SessionID
	NewSession    bool
	Decision      analyzer.Decision
	Searched      bool
	Reply         stream.Result
	Notifications []string
}

const searchPrefix = "INTERNET SEARCH RESULTS:\n"

// Orchestrator sequences a dialogue turn end to end. It is not safe for
// concurrent use; the dialogue loop drives one turn at a time.
type Orchestrator struct {
	store    Store
	decider  Decider
	searcher Searcher
	streamer Streamer
	observer Observer
	log      logrus.FieldLogger
	opts     Options
	active   history.Active
	now      func() time.Time
}

// New creates an orchestrator with no active session. decider and searcher
// may be nil when search is disabled.
func New(store Store, decider Decider, searcher Searcher, streamer Streamer, observer Observer, log logrus.FieldLogger, opts Options) *Orchestrator {
	if observer == nil {
		observer = NopObserver{}
	}
	if opts.TitleWords <= 0 {
		opts.TitleWords = 10
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	return &Orchestrator{
		store:    store,
		decider:  decider,
		searcher: searcher,
		streamer: streamer,
		observer: observer,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// Active returns the session receiving new messages, if any
func (o *Orchestrator) Active() (history.SessionID, bool) {
	return o.active.ID()
}

// MainThinking reports whether the main model is still asked to think
func (o *Orchestrator) MainThinking() bool {
	return o.opts.Main.Think
}

// Turn handles one user utterance. Blank input is ignored.
func (o *Orchestrator) Turn(ctx context.Context, input string) (TurnOutcome, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TurnOutcome{}, nil
	}

	log := o.log.WithField("turn_id", uuid.New().String())
	var out TurnOutcome

	if _, ok := o.active.ID(); !ok {
		if err := o.startSession(ctx, input); err != nil {
			return out, err
		}
		out.NewSession = true
	}
	out.SessionID, _ = o.active.ID()
	log = log.WithField("session_id", out.SessionID)

	if _, err := o.store.AppendMessage(ctx, &o.active, history.RoleUser, input, true); err != nil {
		return out, fmt.Errorf("failed to save message: %w", err)
	}

	msgs, err := o.modelContext(ctx)
	if err != nil {
		return out, err
	}

	out.Decision = o.classify(ctx, log, msgs)

	if out.Decision.NeedsSearch {
		notes, ok, err := o.search(ctx, log, out.Decision.SearchTerm)
		if err != nil {
			return out, err
		}
		out.Searched = ok
		out.Notifications = notes
		if ok {
			if msgs, err = o.modelContext(ctx); err != nil {
				return out, err
			}
		}
	}

	reply, err := o.respond(ctx, log, msgs)
	if err != nil {
		return out, err
	}
	out.Reply = reply

	if _, err := o.store.AppendMessage(ctx, &o.active, history.RoleAssistant, reply.Content, true); err != nil {
		return out, fmt.Errorf("failed to save reply: %w", err)
	}

	log.WithFields(logrus.Fields{
		"needs_search": out.Decision.NeedsSearch,
		"searched":     out.Searched,
		"reply_len":    len(reply.Content),
	}).Info("turn complete")

	return out, nil
}

// startSession creates a session titled after the utterance, seeded with the
// hidden system message. On failure no session is active.
func (o *Orchestrator) startSession(ctx context.Context, input string) error {
	id, err := o.store.StartSession(ctx, &o.active, Title(input, o.opts.TitleWords), o.systemMessage())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	o.log.WithField("session_id", id).Info("session created")
	return nil
}

func (o *Orchestrator) systemMessage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CONTEXT: %s\nCURRENT DATE: %s\nINSTRUCTIONS: %s",
		o.opts.InitialContext, o.now().Format("2006-01-02"), o.opts.Instructions)
	if p := strings.TrimSpace(o.opts.Profile); p != "" {
		fmt.Fprintf(&sb, "\nUSER DATA: %s", p)
	}
	return sb.String()
}

// classify never fails the turn; any classifier error means no search
func (o *Orchestrator) classify(ctx context.Context, log logrus.FieldLogger, msgs []ollama.Message) analyzer.Decision {
	if !o.opts.SearchEnabled || o.decider == nil || o.searcher == nil {
		return analyzer.Decision{}
	}

	o.observer.Notice(LevelInfo, "Reviewing query...")
	d, err := o.decider.Decide(ctx, msgs, o.opts.Profile)
	if err != nil {
		log.WithError(err).Warn("search classification failed")
		o.observer.Notice(LevelWarning, fmt.Sprintf("Search check failed, answering without search: %v", err))
		return analyzer.Decision{}
	}

	if !d.NeedsSearch {
		o.observer.Notice(LevelInfo, "Decided not to search.")
	}
	return d
}

// search runs term and stores the results as a hidden message. A failed
// search is reported and skipped; only a storage failure is returned.
func (o *Orchestrator) search(ctx context.Context, log logrus.FieldLogger, term string) ([]string, bool, error) {
	o.observer.Notice(LevelInfo, fmt.Sprintf("Searching the web for: %s...", term))

	res, err := o.searcher.Search(ctx, term, o.opts.MaxResults)
	if err != nil {
		log.WithError(err).WithField("term", term).Warn("web search failed")
		o.observer.Notice(LevelWarning, fmt.Sprintf("Search failed: %v", err))
		return res.Notifications, false, nil
	}

	if _, err := o.store.AppendMessage(ctx, &o.active, history.RoleUser, searchPrefix+search.FormatContext(res.Results), false); err != nil {
		return nil, false, fmt.Errorf("failed to save search results: %w", err)
	}

	log.WithFields(logrus.Fields{"term": term, "sources": len(res.Results)}).Debug("search results stored")
	return res.Notifications, true, nil
}

// respond streams the main model reply, retrying once without thinking if
// the model rejects it. The fallback lasts for the rest of the process.
func (o *Orchestrator) respond(ctx context.Context, log logrus.FieldLogger, msgs []ollama.Message) (stream.Result, error) {
	res, err := o.streamOnce(ctx, msgs)
	if errors.Is(err, ollama.ErrThinkingUnsupported) && o.opts.Main.Think {
		log.WithField("model", o.opts.Main.Model).Warn("main model does not support thinking, retrying without it")
		o.observer.Notice(LevelWarning, "Thinking is unavailable. Do the settings in config.toml match your model?")
		o.opts.Main.Think = false
		res, err = o.streamOnce(ctx, msgs)
	}
	if err != nil {
		return res, fmt.Errorf("failed to get response: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) streamOnce(ctx context.Context, msgs []ollama.Message) (stream.Result, error) {
	src, err := o.streamer.Stream(ctx, o.opts.Main.Request(msgs))
	if err != nil {
		return stream.Result{}, err
	}
	defer src.Close()

	o.observer.ReplyStarted(o.opts.Main.Model)
	agg := stream.NewAggregator(o.opts.ProgressInterval, o.observer.Progress)
	return agg.Consume(ctx, src)
}

// modelContext rebuilds the full model context, hidden messages included
func (o *Orchestrator) modelContext(ctx context.Context) ([]ollama.Message, error) {
	id, ok := o.active.ID()
	if !ok {
		return nil, history.ErrNoActiveSession
	}

	stored, err := o.store.LoadMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	msgs := make([]ollama.Message, len(stored))
	for i, m := range stored {
		msgs[i] = ollama.Message{Role: string(m.Role), Content: m.Content}
	}
	return msgs, nil
}

// Title is the first n words of an utterance
func Title(input string, n int) string {
	words := strings.Fields(input)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
