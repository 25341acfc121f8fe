// Package stderr provides a terminal Notifier. Messages are printed to
// stderr (in red when it is a terminal) and documents are handed to the
// platform opener command.
package stderr

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/mattn/go-isatty"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// Option configures the notifier.
type Option func(*Notifier)

// WithOutput redirects messages away from os.Stderr. Color is detected
// again for the new writer.
func WithOutput(w io.Writer) Option {
	return func(n *Notifier) {
		if w != nil {
			n.out = w
			n.color = isTerminal(w)
		}
	}
}

// WithColor forces color on or off.
func WithColor(enabled bool) Option {
	return func(n *Notifier) {
		n.forceColor = &enabled
	}
}

// WithOpenCommand replaces the platform opener. The document path is
// appended as the last argument. An empty name disables opening.
func WithOpenCommand(name string, args ...string) Option {
	return func(n *Notifier) {
		if name == "" {
			n.command = nil
			return
		}
		n.command = append([]string{name}, args...)
	}
}

// WithLogger sets the logger used for opener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Notifier implements crashlog.Notifier on a terminal.
type Notifier struct {
	out        io.Writer
	color      bool
	forceColor *bool
	command    []string
	logger     *slog.Logger
}

var _ crashlog.Notifier = (*Notifier)(nil)

// New creates a notifier writing to stderr and opening documents with
// DefaultOpenCommand.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		out:     os.Stderr,
		color:   isTerminal(os.Stderr),
		command: DefaultOpenCommand(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.forceColor != nil {
		n.color = *n.forceColor
	}
	return n
}

// DefaultOpenCommand returns the document opener for the current platform.
func DefaultOpenCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// ShowMessage prints msg on its own line.
func (n *Notifier) ShowMessage(msg string) {
	if n.color {
		fmt.Fprintf(n.out, "\x1b[31m%s\x1b[0m\n", msg)
		return
	}
	fmt.Fprintln(n.out, msg)
}

// OpenDocument runs the opener on path and waits for it to exit.
func (n *Notifier) OpenDocument(path string) {
	if len(n.command) == 0 || path == "" {
		return
	}
	args := append(append([]string{}, n.command[1:]...), path)
	cmd := exec.Command(n.command[0], args...)
	if err := cmd.Run(); err != nil {
		n.logger.Warn("crashlog: open report failed",
			slog.String("path", path),
			slog.String("command", n.command[0]),
			slog.Any("error", err))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
