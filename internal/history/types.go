package history

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionID identifies a stored conversation
type SessionID int64

func (id SessionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Role is the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionHeader describes a session without its messages
type SessionHeader struct {
	ID          SessionID
	Created     time.Time
	LastUpdated time.Time
	Title       string
}

// Message is a single stored message. Hidden messages take part in model
// context but are never replayed to the user.
type Message struct {
	SessionID SessionID
	Created   time.Time
	Role      Role
	Content   string
	Visible   bool
}

// Visible filters msgs down to the human-facing transcript
func Visible(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Visible {
			out = append(out, m)
		}
	}
	return out
}

// Active is the process-local pointer to the session receiving new messages.
// The zero value is the empty pointer.
type Active struct {
	id    SessionID
	bound bool
}

// ID returns the bound session id and whether one is bound
func (a *Active) ID() (SessionID, bool) {
	if a == nil {
		return 0, false
	}
	return a.id, a.bound
}

// Is reports whether id is the bound session
func (a *Active) Is(id SessionID) bool {
	cur, ok := a.ID()
	return ok && cur == id
}

// Clear drops the pointer back to empty. Only an explicit "new" request does this.
func (a *Active) Clear() {
	a.id, a.bound = 0, false
}

func (a *Active) bind(id SessionID) {
	a.id, a.bound = id, true
}

// Selector picks which sessions a delete removes
type Selector struct {
	All bool // every session except the active one
	ID  SessionID
}

// AllSessions selects every session except the active one
func AllSessions() Selector { return Selector{All: true} }

// Only selects a single session
func Only(id SessionID) Selector { return Selector{ID: id} }

// ParseSelector accepts "*" or a numeric session id
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return AllSessions(), nil
	}
	id, err := ParseID(s)
	if err != nil {
		return Selector{}, err
	}
	return Only(id), nil
}

// ParseID parses a session id typed by the user
func ParseID(s string) (SessionID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return SessionID(n), nil
}

var (
	// ErrSessionNotFound is matched by every SessionNotFoundError
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession is returned when appending with an empty pointer
	ErrNoActiveSession = errors.New("no active session")
)

// SessionNotFoundError reports a switch to a session that cannot be loaded,
// either because it does not exist or because it is already active.
type SessionNotFoundError struct {
	ID            SessionID
	AlreadyActive bool
}

func (e *SessionNotFoundError) Error() string {
	if e.AlreadyActive {
		return fmt.Sprintf("session %d is already loaded", e.ID)
	}
	return fmt.Sprintf("session %d does not exist", e.ID)
}

func (e *SessionNotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}
