package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"ollama-chat/internal/chat"
	"ollama-chat/internal/commands"
	"ollama-chat/internal/history"
	"ollama-chat/internal/stream"
)

// Options configures a Display
type Options struct {
	ShowThinking bool
	// Width overrides terminal detection when positive
	Width int
}

// Display renders the chat transcript, status notices and command output
type Display struct {
	out          io.Writer
	width        int
	showThinking bool
	renderer     *glamour.TermRenderer
	st           styles
	reply        replyState
}

// replyState tracks how much of the current reply has been printed
type replyState struct {
	started   time.Time
	reasoning int
	content   int
	answering bool
}

type styles struct {
	frame    lipgloss.Style
	title    lipgloss.Style
	label    lipgloss.Style
	thinking lipgloss.Style
	info     lipgloss.Style
	warning  lipgloss.Style
	errText  lipgloss.Style
	success  lipgloss.Style
	prompt   lipgloss.Style
	header   lipgloss.Style
	muted    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	cyan := lipgloss.Color("6")
	gray := lipgloss.Color("8")

	return styles{
		frame:    r.NewStyle().Foreground(gray),
		title:    r.NewStyle().Bold(true).Foreground(cyan).BorderStyle(lipgloss.RoundedBorder()).BorderForeground(cyan).Padding(0, 2),
		label:    r.NewStyle().Bold(true).Foreground(gray),
		thinking: r.NewStyle().Faint(true),
		info:     r.NewStyle().Foreground(cyan),
		warning:  r.NewStyle().Foreground(lipgloss.Color("3")),
		errText:  r.NewStyle().Foreground(lipgloss.Color("1")),
		success:  r.NewStyle().Foreground(lipgloss.Color("2")),
		prompt:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		header:   r.NewStyle().Bold(true).Underline(true),
		muted:    r.NewStyle().Foreground(gray),
	}
}

// NewDisplay creates a display writing to out
func NewDisplay(out io.Writer, opts Options) *Display {
	tty := isTerminal(out)

	width := opts.Width
	if width <= 0 {
		width = terminalWidth(out)
	}

	styleOpt := glamour.WithStandardStyle("notty")
	if tty {
		styleOpt = glamour.WithAutoStyle()
	}
	// A nil renderer falls back to plain text
	renderer, _ := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(max(width-4, 20)))

	return &Display{
		out:          out,
		width:        width,
		showThinking: opts.ShowThinking,
		renderer:     renderer,
		st:           newStyles(lipgloss.NewRenderer(out)),
	}
}

// paint applies s line by line so streamed fragments keep their exact shape
func paint(s lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = s.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}

func (d *Display) printf(format string, args ...interface{}) {
	fmt.Fprintf(d.out, format, args...)
}

// Welcome prints the banner and the models in use
func (d *Display) Welcome(mainModel, searchModel string, searchEnabled bool) {
	d.printf("%s\n\n", d.st.title.Render("ollama-chat"))
	d.printf("%s %s\n", d.st.label.Render("Model:"), mainModel)
	if searchEnabled {
		d.printf("%s %s\n", d.st.label.Render("Search model:"), searchModel)
	} else {
		d.printf("%s\n", d.st.muted.Render("Web search is off"))
	}
	d.printf("%s\n\n", d.st.muted.Render("Type /help for commands, /exit to quit"))
}

// Goodbye prints the exit line
func (d *Display) Goodbye() {
	d.printf("\n%s\n", d.st.info.Render("Goodbye!"))
}

// Prompt prints the input prompt
func (d *Display) Prompt() {
	d.printf("\n%s ", d.st.prompt.Render("❯"))
}

// Info prints an informational line
func (d *Display) Info(msg string) {
	d.printf("%s\n", paint(d.st.info, "ℹ "+msg))
}

// Warning prints a warning line
func (d *Display) Warning(msg string) {
	d.printf("%s\n", paint(d.st.warning, "⚠ "+msg))
}

// Error prints an error line
func (d *Display) Error(err error) {
	d.printf("%s\n", paint(d.st.errText, "✗ Error: "+err.Error()))
}

// Hint prints an indented follow-up line under an error
func (d *Display) Hint(msg string) {
	d.printf("  %s\n", d.st.muted.Render(msg))
}

// Notice implements chat.Observer
func (d *Display) Notice(level chat.Level, msg string) {
	if level == chat.LevelWarning {
		d.Warning(msg)
		return
	}
	d.printf("%s\n", paint(d.st.muted, msg))
}

// ReplyStarted implements chat.Observer
func (d *Display) ReplyStarted(model string) {
	d.reply = replyState{started: time.Now()}
	d.printf("\n%s\n%s ", d.st.frame.Render(fmt.Sprintf("┌─ %s · %s", model, d.reply.started.Format("15:04:05"))), d.st.frame.Render("│"))
}

// Progress implements chat.Observer. Snapshots are cumulative, so only the
// unseen suffix of each channel is written.
func (d *Display) Progress(snap stream.Snapshot) {
	if d.showThinking && len(snap.Reasoning) > d.reply.reasoning {
		d.printf("%s", paint(d.st.thinking, snap.Reasoning[d.reply.reasoning:]))
		d.reply.reasoning = len(snap.Reasoning)
	}

	if len(snap.Content) > d.reply.content {
		if !d.reply.answering {
			d.reply.answering = true
			if d.showThinking && d.reply.reasoning > 0 {
				d.printf("\n%s\n%s ", d.st.frame.Render("│ ─── Answer ───"), d.st.frame.Render("│"))
			}
		}
		d.printf("%s", snap.Content[d.reply.content:])
		d.reply.content = len(snap.Content)
	}
}

// ReplyFinished closes the reply frame and lists the sources consulted
func (d *Display) ReplyFinished(res stream.Result, sources []string) {
	d.printf("\n")

	if len(sources) > 0 {
		d.printf("%s\n%s\n", d.st.frame.Render("│"), d.st.frame.Render("│ Search sources:"))
		for i, s := range sources {
			d.printf("%s\n", d.st.frame.Render(fmt.Sprintf("│   %d. %s", i+1, truncate(s, d.width-10))))
		}
	}

	d.printf("%s\n", d.st.frame.Render(fmt.Sprintf("└─ %s · ~%d words", formatDuration(time.Since(d.reply.started)), len(strings.Fields(res.Content)))))
}

// SessionTable implements commands.Output
func (d *Display) SessionTable(sessions []history.SessionHeader) {
	if len(sessions) == 0 {
		d.printf("%s\n", d.st.muted.Render("No saved chats"))
		return
	}

	titleWidth := max(d.width-30, 20)
	d.printf("%s %s %s\n",
		d.st.header.Render(fmt.Sprintf("%-6s", "ID")),
		d.st.header.Render(fmt.Sprintf("%-19s", "Last updated")),
		d.st.header.Render("Title"))
	for _, s := range sessions {
		d.printf("%-6d %-19s %s\n", s.ID, s.LastUpdated.Local().Format("2006-01-02 15:04:05"), truncate(s.Title, titleWidth))
	}
}

// Transcript implements commands.Output. Assistant messages are rendered
// as markdown.
func (d *Display) Transcript(msgs []history.Message) {
	for _, m := range msgs {
		stamp := m.Created.Local().Format("2006-01-02 15:04")
		switch m.Role {
		case history.RoleUser:
			d.printf("\n%s\n%s\n", d.st.label.Render("You · "+stamp), m.Content)
		case history.RoleAssistant:
			d.printf("\n%s\n%s\n", d.st.label.Render("Assistant · "+stamp), d.markdown(m.Content))
		}
	}
}

// Help implements commands.Output
func (d *Display) Help(cmds []commands.Command) {
	d.printf("%s\n", d.st.header.Render("Commands"))
	for _, c := range cmds {
		d.printf("  %-52s %s\n", c.Usage, d.st.muted.Render(c.Summary))
	}
}

func (d *Display) markdown(text string) string {
	if d.renderer == nil {
		return text
	}
	out, err := d.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Helper functions

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

// truncate shortens s to maxLen runes, never splitting a character
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen < 4 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
