// Package commands dispatches slash commands typed at the chat prompt.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ollama-chat/internal/history"
)

// ErrExit is returned by /exit
var ErrExit = errors.New("exit requested")

// ErrUsage marks a malformed command line
var ErrUsage = errors.New("invalid usage")

const defaultListQty = 5

// Sessions is the session surface the commands drive
type Sessions interface {
	List(ctx context.Context, limit int) ([]history.SessionHeader, error)
	Load(ctx context.Context, id history.SessionID) ([]history.Message, error)
	Delete(ctx context.Context, sel history.Selector) ([]history.SessionID, error)
	New()
}

// Output renders command results
type Output interface {
	Info(msg string)
	SessionTable(sessions []history.SessionHeader)
	Transcript(msgs []history.Message)
	Help(cmds []Command)
}

// Command is one entry in the lookup table
type Command struct {
	Name    string
	Usage   string
	Summary string
	run     func(ctx context.Context, args []string) error
}

// Registry maps command names to handlers
type Registry struct {
	sessions Sessions
	out      Output
	table    map[string]Command
}

// NewRegistry builds the command table
func NewRegistry(sessions Sessions, out Output) *Registry {
	r := &Registry{sessions: sessions, out: out}
	r.table = map[string]Command{
		"/help": {Name: "/help", Usage: "/help", Summary: "Show this help", run: r.help},
		"/hist": {Name: "/hist", Usage: "/hist list [qty] | load <id> | delete <id|*> | new", Summary: "Manage chat history", run: r.hist},
		"/exit": {Name: "/exit", Usage: "/exit", Summary: "Quit", run: func(context.Context, []string) error { return ErrExit }},
	}
	return r
}

// IsCommand reports whether line should be dispatched instead of sent to the model
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "/")
}

// Commands returns the table sorted by name
func (r *Registry) Commands() []Command {
	cmds := make([]Command, 0, len(r.table))
	for _, c := range r.table {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute runs one command line. It returns ErrExit for /exit.
func (r *Registry) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, ok := r.table[strings.ToLower(fields[0])]
	if !ok {
		r.out.Info(fmt.Sprintf("Unknown command: %s", fields[0]))
		r.out.Help(r.Commands())
		return nil
	}
	return cmd.run(ctx, fields[1:])
}

func (r *Registry) help(context.Context, []string) error {
	r.out.Help(r.Commands())
	return nil
}

func (r *Registry) hist(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: /hist needs a subcommand: list, load, delete or new", ErrUsage)
	}

	switch strings.ToLower(args[0]) {
	case "list":
		return r.histList(ctx, args[1:])
	case "load":
		return r.histLoad(ctx, args[1:])
	case "delete":
		return r.histDelete(ctx, args[1:])
	case "new":
		r.sessions.New()
		r.out.Info("Started a new chat.")
		return nil
	default:
		return fmt.Errorf("%w: unknown /hist subcommand %q", ErrUsage, args[0])
	}
}

func (r *Registry) histList(ctx context.Context, args []string) error {
	qty := defaultListQty
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: quantity must be a positive number", ErrUsage)
		}
		qty = n
	}

	sessions, err := r.sessions.List(ctx, qty)
	if err != nil {
		return err
	}
	r.out.SessionTable(sessions)
	r.out.Info(fmt.Sprintf("Retrieved %d records", len(sessions)))
	return nil
}

func (r *Registry) histLoad(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: /hist load <id>", ErrUsage)
	}
	id, err := history.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	msgs, err := r.sessions.Load(ctx, id)
	if err != nil {
		return err
	}
	r.out.Transcript(msgs)
	r.out.Info(fmt.Sprintf("Loaded chat %d", id))
	return nil
}

func (r *Registry) histDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: /hist delete <id|*>", ErrUsage)
	}
	sel, err := history.ParseSelector(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	ids, err := r.sessions.Delete(ctx, sel)
	if err != nil {
		return err
	}
	r.out.Info(fmt.Sprintf("Deleted %d chats", len(ids)))
	return nil
}
