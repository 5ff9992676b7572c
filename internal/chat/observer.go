package chat

import "ollama-chat/internal/stream"

// Level grades a notice for display
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
)

// Observer receives progress of a turn as it happens
type Observer interface {
	Notice(level Level, msg string)
	ReplyStarted(model string)
	Progress(snap stream.Snapshot)
}

// NopObserver discards everything
type NopObserver struct{}

func (NopObserver) Notice(Level, string)     {}
func (NopObserver) ReplyStarted(string)      {}
func (NopObserver) Progress(stream.Snapshot) {}
