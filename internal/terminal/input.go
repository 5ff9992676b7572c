package terminal

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Reader reads user input one line at a time
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps in. One Reader must be kept for the whole session so
// buffered input is not lost between lines.
func NewReader(in io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(in)}
}

// ReadLine reads a line of input. A final line without a newline is
// returned before io.EOF.
func (r *Reader) ReadLine() (string, error) {
	input, err := r.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && input != "" {
			return strings.TrimSpace(input), nil
		}
		return "", err
	}

	// Trim whitespace and newline
	return strings.TrimSpace(input), nil
}

// IsTerminal checks if f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
