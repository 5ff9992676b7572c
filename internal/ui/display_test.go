package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"ollama-chat/internal/chat"
	"ollama-chat/internal/commands"
	"ollama-chat/internal/history"
	"ollama-chat/internal/stream"
)

func newTestDisplay(showThinking bool) (*Display, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewDisplay(&buf, Options{ShowThinking: showThinking, Width: 80}), &buf
}

func TestProgressWritesOnlyNewText(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.ReplyStarted("qwen3:8b")
	d.Progress(stream.Snapshot{Reasoning: "Let me"})
	d.Progress(stream.Snapshot{Reasoning: "Let me think.", Content: "Hel"})
	d.Progress(stream.Snapshot{Reasoning: "Let me think.", Content: "Hello there"})
	d.ReplyFinished(stream.Result{Reasoning: "Let me think.", Content: "Hello there"}, nil)

	out := buf.String()
	assert.Contains(t, out, "qwen3:8b")
	assert.Contains(t, out, "Let me think.")
	assert.Contains(t, out, "Answer")
	assert.Contains(t, out, "Hello there")
	assert.Equal(t, 1, strings.Count(out, "Hel"))
	assert.Contains(t, out, "~2 words")
}

func TestProgressHidesThinking(t *testing.T) {
	d, buf := newTestDisplay(false)

	d.ReplyStarted("m")
	d.Progress(stream.Snapshot{Reasoning: "secret plan", Content: "Answer text"})

	out := buf.String()
	assert.NotContains(t, out, "secret plan")
	assert.NotContains(t, out, "───")
	assert.Contains(t, out, "Answer text")
}

func TestReplyFinishedListsSources(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.ReplyStarted("m")
	d.ReplyFinished(stream.Result{Content: "ok"}, []string{"[200] https://a.example", "[failed] https://b.example (timeout)"})

	out := buf.String()
	assert.Contains(t, out, "Search sources:")
	assert.Contains(t, out, "1. [200] https://a.example")
	assert.Contains(t, out, "2. [failed] https://b.example (timeout)")
}

func TestNotice(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.Notice(chat.LevelInfo, "Reviewing query...")
	d.Notice(chat.LevelWarning, "Thinking is unavailable.")
	d.Error(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Reviewing query...")
	assert.Contains(t, out, "⚠ Thinking is unavailable.")
	assert.Contains(t, out, "✗ Error: boom")
}

func TestSessionTable(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.SessionTable(nil)
	assert.Contains(t, buf.String(), "No saved chats")

	buf.Reset()
	d.SessionTable([]history.SessionHeader{
		{ID: 12, LastUpdated: time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local), Title: "what is the weather in Paris"},
	})
	out := buf.String()
	assert.Contains(t, out, "Last updated")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "2026-03-01 10:00:00")
	assert.Contains(t, out, "what is the weather in Paris")
}

func TestTranscript(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.Transcript([]history.Message{
		{Role: history.RoleUser, Content: "list two fruits", Created: time.Now()},
		{Role: history.RoleAssistant, Content: "- apple\n- pear", Created: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "You ·")
	assert.Contains(t, out, "list two fruits")
	assert.Contains(t, out, "Assistant ·")
	assert.Contains(t, out, "apple")
	assert.Contains(t, out, "pear")
}

func TestHelp(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.Help([]commands.Command{{Name: "/exit", Usage: "/exit", Summary: "Quit"}})
	assert.Contains(t, buf.String(), "/exit")
	assert.Contains(t, buf.String(), "Quit")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	title := "東京の天気はどうですか明日の予報"
	got := truncate(title, 8)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "東京の天気...", got)
	assert.Equal(t, "🙂🙂", truncate("🙂🙂", 4))

	d, buf := newTestDisplay(true)
	d.width = 40
	d.SessionTable([]history.SessionHeader{{ID: 1, LastUpdated: time.Now(), Title: strings.Repeat("天気", 20)}})
	assert.True(t, utf8.ValidString(buf.String()))
}
